// Package database holds the peer records and their flat file form.
package database

import (
	"fmt"
	"slices"

	"wg-meshconf/models"
)

// PrivateKeyGenerator is the part of the key provider the store needs to fill
// in a missing private key.
type PrivateKeyGenerator interface {
	GeneratePrivateKey() (string, error)
}

// Store maps peer names to records. Iteration follows insertion order, which
// for a loaded store is the row order of the file.
type Store struct {
	order []string
	peers map[string]*models.PeerRecord
}

func NewStore() *Store {
	return &Store{
		peers: make(map[string]*models.PeerRecord),
	}
}

func (s *Store) Len() int {
	return len(s.order)
}

// Names returns the peer names in store order.
func (s *Store) Names() []string {
	return slices.Clone(s.order)
}

// Get returns the stored record. The pointer aliases the store.
func (s *Store) Get(name string) (*models.PeerRecord, bool) {
	r, ok := s.peers[name]
	return r, ok
}

// Peers returns every record in store order. The pointers alias the store.
func (s *Store) Peers() []*models.PeerRecord {
	peers := make([]*models.PeerRecord, 0, len(s.order))
	for _, name := range s.order {
		peers = append(peers, s.peers[name])
	}
	return peers
}

// Lookup is Get with ErrNotFound for a missing name.
func (s *Store) Lookup(name string) (*models.PeerRecord, error) {
	r, ok := s.peers[name]
	if !ok {
		return nil, fmt.Errorf("peer %q: %w", name, ErrNotFound)
	}
	return r, nil
}

func (s *Store) insert(r *models.PeerRecord) error {
	if _, ok := s.peers[r.Name]; ok {
		return fmt.Errorf("peer %q: %w", r.Name, ErrDuplicateName)
	}
	s.peers[r.Name] = r
	s.order = append(s.order, r.Name)
	return nil
}

// Add inserts a new peer built from attrs. A private key is generated with
// keys when attrs does not carry one. The store is left untouched on error.
func (s *Store) Add(name string, attrs models.Attributes, keys PrivateKeyGenerator) (*models.PeerRecord, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if _, ok := s.peers[name]; ok {
		return nil, fmt.Errorf("peer %q: %w", name, ErrDuplicateName)
	}

	r := &models.PeerRecord{Name: name}
	attrs.Apply(r)
	if err := validateRecord(r); err != nil {
		return nil, err
	}

	if r.PrivateKey == "" {
		key, err := keys.GeneratePrivateKey()
		if err != nil {
			return nil, fmt.Errorf("peer %q: %w", name, err)
		}
		r.PrivateKey = key
	}

	if err := s.insert(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Update overwrites the attributes set in attrs on an existing peer.
func (s *Store) Update(name string, attrs models.Attributes) (*models.PeerRecord, error) {
	current, err := s.Lookup(name)
	if err != nil {
		return nil, err
	}

	r := current.Clone()
	attrs.Apply(r)
	if err := validateRecord(r); err != nil {
		return nil, err
	}

	s.peers[name] = r
	return r, nil
}

// Delete removes a peer together with every pair key that names it.
func (s *Store) Delete(name string) error {
	if _, err := s.Lookup(name); err != nil {
		return err
	}

	delete(s.peers, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })

	for _, r := range s.peers {
		r.PresharedKeys = slices.DeleteFunc(r.PresharedKeys, func(p models.PairKey) bool {
			return p.Involves(name)
		})
		if len(r.PresharedKeys) == 0 {
			r.PresharedKeys = nil
		}
	}
	return nil
}
