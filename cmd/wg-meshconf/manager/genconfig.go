package manager

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"github.com/yeqown/go-qrcode/v2"
	"github.com/yeqown/go-qrcode/writer/standard"

	"wg-meshconf/cmd/wg-meshconf/compiler"
	"wg-meshconf/cmd/wg-meshconf/database"
)

const (
	confFormat = "%s.conf"
	qrFormat   = "%s.png"
)

type GenOptions struct {
	// OutputDir receives one <name>.conf per peer; created when missing.
	OutputDir     string
	PresharedKeys bool
	// QRCode also writes <name>.png holding the config text.
	QRCode bool
}

func prepareOutputDir(dir string) (created bool, err error) {
	fi, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return true, os.MkdirAll(dir, 0o700)
	case err != nil:
		return false, err
	case !fi.IsDir():
		return false, fmt.Errorf("%s: %w", dir, ErrOutputPathConflict)
	}
	return false, nil
}

func writeQRCode(path string, text []byte) error {
	qrc, err := qrcode.New(string(text))
	if err != nil {
		return err
	}
	w, err := standard.New(path, standard.WithBuiltinImageEncoder(standard.PNG_FORMAT))
	if err != nil {
		return err
	}
	// Save closes w
	return qrc.Save(w)
}

// GenConfig writes the config of the named peer, or of every peer when name
// is empty, and returns the written config paths. With pre-shared keys the
// pair assignment is saved to the database before any file is written, so
// later runs reuse the same keys. Files written before a failure stay in
// place.
func (m *Manager) GenConfig(name string, opts GenOptions) ([]string, error) {
	var written []string

	err := m.locked(!opts.PresharedKeys, func(s *database.Store) error {
		if name != "" {
			if _, err := s.Lookup(name); err != nil {
				return err
			}
		}

		created, err := prepareOutputDir(opts.OutputDir)
		if err != nil {
			return err
		}
		if created {
			m.Log.WithField("dir", opts.OutputDir).Info("created output directory")
		}

		c := &compiler.Compiler{Keys: m.Keys, Log: m.Log}
		if opts.PresharedKeys {
			table, err := m.assigner().Assign(s)
			if err != nil {
				return err
			}
			if err := database.Save(m.Path, s); err != nil {
				return err
			}
			c.PresharedKeys = table
		}

		var configs []compiler.Named
		if name != "" {
			cfg, err := c.Compile(s, name)
			if err != nil {
				return err
			}
			configs = []compiler.Named{{Name: name, Config: cfg}}
		} else if configs, err = c.CompileAll(s); err != nil {
			return err
		}

		for _, n := range configs {
			text, err := compiler.Render(n.Config)
			if err != nil {
				return err
			}

			path := filepath.Join(opts.OutputDir, fmt.Sprintf(confFormat, n.Name))
			if err := atomic.WriteFile(path, bytes.NewReader(text)); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			written = append(written, path)
			log := m.Log.WithField("peer", n.Name)
			log.WithField("path", path).Info("config written")

			if opts.QRCode {
				qrPath := filepath.Join(opts.OutputDir, fmt.Sprintf(qrFormat, n.Name))
				if err := writeQRCode(qrPath, text); err != nil {
					return fmt.Errorf("qr code %s: %w", qrPath, err)
				}
				log.WithField("path", qrPath).Debug("qr code written")
			}
		}
		return nil
	})
	return written, err
}
