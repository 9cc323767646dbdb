// Package compiler turns the peer database into one wg-quick config per peer.
//
// A peer section for Q is written into P's config only when P or Q has a
// public endpoint: two peers without one cannot dial each other, so the mesh
// is the subgraph of pairs where at least one side is publicly reachable.
package compiler

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"

	"github.com/sirupsen/logrus"

	"wg-meshconf/cmd/wg-meshconf/database"
	"wg-meshconf/cmd/wg-meshconf/keyprovider"
	"wg-meshconf/cmd/wg-meshconf/pairkeys"
	"wg-meshconf/models"
)

var ErrMissingPresharedKey = errors.New("no pre-shared key assigned")

type PublicKeyDeriver interface {
	DerivePublicKey(privateKey string) (string, error)
}

type Compiler struct {
	Keys PublicKeyDeriver
	Log  logrus.FieldLogger
	// PresharedKeys enables PresharedKey lines when non-nil.
	PresharedKeys pairkeys.Table
}

// Named is a compiled config together with the peer it belongs to.
type Named struct {
	Name   string
	Config models.Config
}

type run struct {
	*Compiler
	store   *database.Store
	pubKeys map[string]string
}

func (c *Compiler) newRun(s *database.Store) *run {
	return &run{Compiler: c, store: s, pubKeys: make(map[string]string)}
}

// Compile builds the config of the named peer.
func (c *Compiler) Compile(s *database.Store, name string) (models.Config, error) {
	p, err := s.Lookup(name)
	if err != nil {
		return models.Config{}, err
	}
	return c.newRun(s).compile(p)
}

// CompileAll builds the config of every peer, in store order.
func (c *Compiler) CompileAll(s *database.Store) ([]Named, error) {
	r := c.newRun(s)
	out := make([]Named, 0, s.Len())
	for _, p := range s.Peers() {
		cfg, err := r.compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, Named{Name: p.Name, Config: cfg})
	}
	return out, nil
}

// Render serializes a compiled config into wg-quick text.
func Render(cfg models.Config) ([]byte, error) {
	return cfg.MarshalText()
}

func (r *run) publicKey(q *models.PeerRecord) (string, error) {
	if pub, ok := r.pubKeys[q.Name]; ok {
		return pub, nil
	}
	pub, err := r.Keys.DerivePublicKey(q.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("peer %q: public key: %w", q.Name, err)
	}
	r.pubKeys[q.Name] = pub
	return pub, nil
}

func endpoint(q *models.PeerRecord) string {
	port := models.DefaultListenPort
	if q.ListenPort != nil {
		port = *q.ListenPort
	}
	return net.JoinHostPort(q.Endpoint, strconv.Itoa(port))
}

func (r *run) compile(p *models.PeerRecord) (models.Config, error) {
	if _, err := keyprovider.ParseKey(p.PrivateKey); err != nil {
		return models.Config{}, fmt.Errorf("peer %q: private key: %w", p.Name, err)
	}

	cfg := models.Config{
		Intrfc: models.Interface{
			Name:       p.Name,
			Address:    slices.Clone(p.Address),
			PrivateKey: p.PrivateKey,
			ListenPort: p.ListenPort,
			FwMark:     p.FwMark,
			DNS:        p.DNS,
			MTU:        p.MTU,
			Table:      p.Table,
			PreUp:      p.PreUp,
			PostUp:     p.PostUp,
			PreDown:    p.PreDown,
			PostDown:   p.PostDown,
			SaveConfig: p.SaveConfig,
		},
	}

	for _, q := range r.store.Peers() {
		if q.Name == p.Name {
			continue
		}
		log := r.Log.WithFields(logrus.Fields{"peer": p.Name, "remote": q.Name})
		if p.Endpoint == "" && q.Endpoint == "" {
			log.Debug("skipping peer, neither side has a public endpoint")
			continue
		}

		pub, err := r.publicKey(q)
		if err != nil {
			return models.Config{}, err
		}

		peer := models.Peer{
			Name:                q.Name,
			PublicKey:           pub,
			AllowedIPs:          append(slices.Clone(q.Address), q.AllowedIPs...),
			PersistentKeepalive: p.PersistentKeepalive,
		}
		if q.Endpoint != "" {
			peer.Endpoint = endpoint(q)
		}
		if r.PresharedKeys != nil {
			key, ok := r.PresharedKeys.Lookup(p.Name, q.Name)
			if !ok {
				return models.Config{}, fmt.Errorf("peers %q and %q: %w", p.Name, q.Name, ErrMissingPresharedKey)
			}
			peer.PresharedKey = key
		}
		cfg.Peer = append(cfg.Peer, peer)
	}
	return cfg, nil
}
