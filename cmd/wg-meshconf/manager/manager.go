// Package manager runs the wg-meshconf commands. Each command is one
// load-mutate-save cycle over the database file, guarded by an advisory lock
// next to it.
package manager

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"wg-meshconf/cmd/wg-meshconf/database"
	"wg-meshconf/cmd/wg-meshconf/keyprovider"
	"wg-meshconf/cmd/wg-meshconf/pairkeys"
	"wg-meshconf/models"
)

const lockSuffix = ".lock"

var (
	ErrDatabaseLocked     = errors.New("database is in use by another wg-meshconf process")
	ErrOutputPathConflict = errors.New("output path already exists and is not a directory")
)

type Manager struct {
	// Path of the database file.
	Path string
	Keys keyprovider.Provider
	Log  logrus.FieldLogger
	// Out receives the showpeers table.
	Out io.Writer
	// Color enables column colours in the showpeers table.
	Color bool
}

func (m *Manager) lock(shared bool) (*flock.Flock, error) {
	fLock := flock.New(m.Path + lockSuffix)

	var ok bool
	var err error
	if shared {
		ok, err = fLock.TryRLock()
	} else {
		ok, err = fLock.TryLock()
	}
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fLock.Path(), err)
	} else if !ok {
		return nil, ErrDatabaseLocked
	}
	return fLock, nil
}

// locked runs fn over a freshly loaded store while holding the database lock.
func (m *Manager) locked(shared bool, fn func(s *database.Store) error) error {
	fLock, err := m.lock(shared)
	if err != nil {
		return err
	}
	defer fLock.Unlock()

	s, err := database.Load(m.Path)
	if err != nil {
		return err
	}
	return fn(s)
}

// view runs fn without saving the store.
func (m *Manager) view(fn func(s *database.Store) error) error {
	return m.locked(true, fn)
}

// update runs fn and saves the store when fn succeeds.
func (m *Manager) update(fn func(s *database.Store) error) error {
	return m.locked(false, func(s *database.Store) error {
		if err := fn(s); err != nil {
			return err
		}
		return database.Save(m.Path, s)
	})
}

func (m *Manager) assigner() *pairkeys.Assigner {
	return &pairkeys.Assigner{Keys: m.Keys, Log: m.Log}
}

// Init creates an empty database, or completes an existing one: every peer
// gets a listen port and a private key, and with withPSK every pair gets a
// pre-shared key.
func (m *Manager) Init(withPSK bool) error {
	if _, err := os.Stat(m.Path); errors.Is(err, fs.ErrNotExist) {
		if err := m.update(func(*database.Store) error { return nil }); err != nil {
			return err
		}
		m.Log.WithField("path", m.Path).Info("empty database created")
		return nil
	}

	return m.update(func(s *database.Store) error {
		for _, r := range s.Peers() {
			log := m.Log.WithField("peer", r.Name)
			if r.ListenPort == nil {
				port := models.DefaultListenPort
				r.ListenPort = &port
				log.Debug("listen port set to default")
			}
			if r.PrivateKey == "" {
				key, err := m.Keys.GeneratePrivateKey()
				if err != nil {
					return fmt.Errorf("peer %q: %w", r.Name, err)
				}
				r.PrivateKey = key
				log.Debug("private key generated")
			}
		}
		if withPSK {
			if _, err := m.assigner().Assign(s); err != nil {
				return err
			}
		}
		m.Log.WithFields(logrus.Fields{"path": m.Path, "peers": s.Len()}).Info("database initialized")
		return nil
	})
}

func (m *Manager) AddPeer(name string, attrs models.Attributes) error {
	return m.update(func(s *database.Store) error {
		if _, err := s.Add(name, attrs, m.Keys); err != nil {
			return err
		}
		m.Log.WithField("peer", name).Info("peer added")
		return nil
	})
}

func (m *Manager) UpdatePeer(name string, attrs models.Attributes) error {
	return m.update(func(s *database.Store) error {
		if _, err := s.Update(name, attrs); err != nil {
			return err
		}
		m.Log.WithField("peer", name).Info("peer updated")
		return nil
	})
}

func (m *Manager) DelPeer(name string) error {
	return m.update(func(s *database.Store) error {
		if err := s.Delete(name); err != nil {
			return err
		}
		m.Log.WithField("peer", name).Info("peer deleted")
		return nil
	})
}
