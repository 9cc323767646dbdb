// Package pairkeys assigns one pre-shared key to every unordered pair of peers
// and keeps that assignment stable across runs by storing it in the
// PresharedKeys attribute of both members.
package pairkeys

import (
	"github.com/sirupsen/logrus"

	"wg-meshconf/cmd/wg-meshconf/database"
	"wg-meshconf/models"
)

// Pair is an unordered pair of peer names, held with A <= B.
type Pair struct {
	A string
	B string
}

func NewPair(a, b string) Pair {
	if b < a {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

// Table maps every pair to its pre-shared key.
type Table map[Pair]string

func (t Table) Lookup(a, b string) (string, bool) {
	key, ok := t[NewPair(a, b)]
	return key, ok
}

type PresharedKeyGenerator interface {
	GeneratePresharedKey() (string, error)
}

// Pairs enumerates every two-element combination of names, following the
// order of names.
func Pairs(names []string) []Pair {
	pairs := make([]Pair, 0, len(names)*(len(names)-1)/2)
	for i := range names {
		for j := i + 1; j < len(names); j++ {
			pairs = append(pairs, NewPair(names[i], names[j]))
		}
	}
	return pairs
}

// live reports whether k, stored on r, still names r and an existing peer.
func live(s *database.Store, r *models.PeerRecord, k models.PairKey) bool {
	if !k.Involves(r.Name) {
		return false
	}
	_, ok := s.Get(k.Other(r.Name))
	return ok
}

// Collect rebuilds the pair table from the records of s, ignoring entries
// Prune would drop. When two records disagree on a pair the first one in
// store order wins.
func Collect(s *database.Store) Table {
	t := make(Table)
	for _, r := range s.Peers() {
		for _, k := range r.PresharedKeys {
			if !live(s, r, k) {
				continue
			}
			p := NewPair(k.A, k.B)
			if _, ok := t[p]; !ok {
				t[p] = k.Key
			}
		}
	}
	return t
}

// Prune drops stored pair keys whose counterpart is no longer in s and
// returns how many entries were removed.
func Prune(s *database.Store) int {
	pruned := 0
	for _, r := range s.Peers() {
		kept := r.PresharedKeys[:0]
		for _, k := range r.PresharedKeys {
			if live(s, r, k) {
				kept = append(kept, k)
			} else {
				pruned++
			}
		}
		if len(kept) == 0 {
			kept = nil
		}
		r.PresharedKeys = kept
	}
	return pruned
}

// setPairKey records k on r, replacing a previous entry for the same pair.
func setPairKey(r *models.PeerRecord, k models.PairKey) {
	for i := range r.PresharedKeys {
		if r.PresharedKeys[i].SamePair(k) {
			r.PresharedKeys[i].Key = k.Key
			return
		}
	}
	r.PresharedKeys = append(r.PresharedKeys, k)
}

type Assigner struct {
	Keys PresharedKeyGenerator
	Log  logrus.FieldLogger
}

// Assign gives every pair of peers in s a pre-shared key, reusing stored keys
// and generating the missing ones, then writes each key to both members. s is
// only modified once every key is known.
func (a *Assigner) Assign(s *database.Store) (Table, error) {
	existing := Collect(s)
	pairs := Pairs(s.Names())
	table := make(Table, len(pairs))
	generated := 0

	for _, p := range pairs {
		log := a.Log.WithFields(logrus.Fields{"a": p.A, "b": p.B})
		if key, ok := existing[p]; ok {
			log.Debug("reusing pre-shared key")
			table[p] = key
			continue
		}

		key, err := a.Keys.GeneratePresharedKey()
		if err != nil {
			return nil, err
		}
		log.Debug("generated pre-shared key")
		table[p] = key
		generated++
	}

	if n := Prune(s); n > 0 {
		a.Log.WithField("entries", n).Warn("pruned pre-shared keys of removed peers")
	}
	for _, p := range pairs {
		k := models.PairKey{A: p.A, B: p.B, Key: table[p]}
		for _, name := range []string{p.A, p.B} {
			r, _ := s.Get(name)
			setPairKey(r, k)
		}
	}

	a.Log.WithFields(logrus.Fields{"pairs": len(pairs), "generated": generated}).Debug("pre-shared keys assigned")
	return table, nil
}
