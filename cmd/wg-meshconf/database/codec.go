package database

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"

	"wg-meshconf/cmd/wg-meshconf/keyprovider"
	"wg-meshconf/models"
)

const (
	nameColumn    = "Name"
	listSeparator = ","
	pairSeparator = ":"
)

type column struct {
	name   string
	encode func(r *models.PeerRecord) string
	decode func(r *models.PeerRecord, val string) error
}

// columns is the canonical column order of the database file.
var columns = []column{
	{nameColumn,
		func(r *models.PeerRecord) string { return r.Name },
		func(r *models.PeerRecord, v string) error { r.Name = v; return nil }},
	{"Address",
		func(r *models.PeerRecord) string { return joinList(r.Address) },
		func(r *models.PeerRecord, v string) error { r.Address = splitList(v); return nil }},
	{"Endpoint",
		func(r *models.PeerRecord) string { return r.Endpoint },
		func(r *models.PeerRecord, v string) error { r.Endpoint = v; return nil }},
	{"AllowedIPs",
		func(r *models.PeerRecord) string { return joinList(r.AllowedIPs) },
		func(r *models.PeerRecord, v string) error { r.AllowedIPs = splitList(v); return nil }},
	{"ListenPort",
		func(r *models.PeerRecord) string { return formatInt(r.ListenPort) },
		func(r *models.PeerRecord, v string) (err error) { r.ListenPort, err = parseInt(v); return }},
	{"PersistentKeepalive",
		func(r *models.PeerRecord) string { return formatInt(r.PersistentKeepalive) },
		func(r *models.PeerRecord, v string) (err error) { r.PersistentKeepalive, err = parseInt(v); return }},
	{"FwMark",
		func(r *models.PeerRecord) string { return r.FwMark },
		func(r *models.PeerRecord, v string) error { r.FwMark = v; return nil }},
	{"PrivateKey",
		func(r *models.PeerRecord) string { return r.PrivateKey },
		func(r *models.PeerRecord, v string) error { r.PrivateKey = v; return nil }},
	{"DNS",
		func(r *models.PeerRecord) string { return r.DNS },
		func(r *models.PeerRecord, v string) error { r.DNS = v; return nil }},
	{"MTU",
		func(r *models.PeerRecord) string { return formatInt(r.MTU) },
		func(r *models.PeerRecord, v string) (err error) { r.MTU, err = parseInt(v); return }},
	{"Table",
		func(r *models.PeerRecord) string { return r.Table },
		func(r *models.PeerRecord, v string) error { r.Table = v; return nil }},
	{"PreUp",
		func(r *models.PeerRecord) string { return r.PreUp },
		func(r *models.PeerRecord, v string) error { r.PreUp = v; return nil }},
	{"PostUp",
		func(r *models.PeerRecord) string { return r.PostUp },
		func(r *models.PeerRecord, v string) error { r.PostUp = v; return nil }},
	{"PreDown",
		func(r *models.PeerRecord) string { return r.PreDown },
		func(r *models.PeerRecord, v string) error { r.PreDown = v; return nil }},
	{"PostDown",
		func(r *models.PeerRecord) string { return r.PostDown },
		func(r *models.PeerRecord, v string) error { r.PostDown = v; return nil }},
	{"SaveConfig",
		func(r *models.PeerRecord) string { return formatBool(r.SaveConfig) },
		func(r *models.PeerRecord, v string) (err error) { r.SaveConfig, err = parseBool(v); return }},
	{"PresharedKeys",
		func(r *models.PeerRecord) string { return encodePairKeys(r.PresharedKeys) },
		func(r *models.PeerRecord, v string) (err error) { r.PresharedKeys, err = decodePairKeys(v); return }},
}

// Columns returns the canonical header of the database file.
func Columns() []string {
	names := make([]string, 0, len(columns))
	for _, c := range columns {
		names = append(names, c.name)
	}
	return names
}

// Value renders one attribute of r the way it is stored in the file.
func Value(r *models.PeerRecord, col string) string {
	for _, c := range columns {
		if c.name == col {
			return c.encode(r)
		}
	}
	return ""
}

func joinList(l []string) string {
	return strings.Join(l, listSeparator)
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	items := strings.Split(v, listSeparator)
	for i := range items {
		items[i] = strings.TrimSpace(items[i])
	}
	return items
}

func formatInt(i *int) string {
	if i == nil {
		return ""
	}
	return strconv.Itoa(*i)
}

func parseInt(v string) (*int, error) {
	if v == "" {
		return nil, nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return nil, fmt.Errorf("%q is not an integer", v)
	}
	return &i, nil
}

// booleans keep the True/False spelling of the original tool's files
func formatBool(b *bool) string {
	switch {
	case b == nil:
		return ""
	case *b:
		return "True"
	default:
		return "False"
	}
}

func parseBool(v string) (*bool, error) {
	var b bool
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return nil, nil
	case "true":
		b = true
	case "false":
		b = false
	default:
		return nil, fmt.Errorf("%q is not a boolean", v)
	}
	return &b, nil
}

func encodePairKeys(keys []models.PairKey) string {
	items := make([]string, 0, len(keys))
	for _, k := range keys {
		items = append(items, strings.Join([]string{k.A, k.B, k.Key}, pairSeparator))
	}
	return joinList(items)
}

func decodePairKeys(v string) ([]models.PairKey, error) {
	var keys []models.PairKey
	for _, item := range splitList(v) {
		parts := strings.Split(item, pairSeparator)
		if len(parts) != 3 {
			return nil, fmt.Errorf("pair key %q is not of the form peer:peer:key", item)
		}
		k := models.PairKey{A: parts[0], B: parts[1], Key: parts[2]}
		if k.A == "" || k.B == "" || k.A == k.B {
			return nil, fmt.Errorf("pair key %q does not name two distinct peers", item)
		}
		if _, err := keyprovider.ParseKey(k.Key); err != nil {
			return nil, fmt.Errorf("pair key %q: %w", item, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Load reads the database file at path. A missing file yields an empty store.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewStore(), nil
	} else if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

func headerIndex(header []string) ([]*column, error) {
	cols := make([]*column, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		if seen[h] {
			return nil, &CorruptStoreError{Line: 1, Column: h, Err: errors.New("repeated column")}
		}
		seen[h] = true
		for j := range columns {
			if columns[j].name == h {
				cols[i] = &columns[j]
				break
			}
		}
		if cols[i] == nil {
			return nil, &CorruptStoreError{Line: 1, Column: h, Err: errors.New("unknown column")}
		}
	}
	if !seen[nameColumn] {
		return nil, &CorruptStoreError{Line: 1, Err: errors.New("missing Name column")}
	}
	return cols, nil
}

// Decode parses the flat record format. Columns may appear in any order and
// may be omitted, except Name.
func Decode(rd io.Reader) (*Store, error) {
	cr := csv.NewReader(rd)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return NewStore(), nil
	} else if err != nil {
		return nil, wrapCsvError(err)
	}
	cols, err := headerIndex(header)
	if err != nil {
		return nil, err
	}

	s := NewStore()
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, wrapCsvError(err)
		}
		line, _ := cr.FieldPos(0)

		r := &models.PeerRecord{}
		for i, val := range row {
			if err := cols[i].decode(r, val); err != nil {
				return nil, &CorruptStoreError{Line: line, Column: cols[i].name, Err: err}
			}
		}
		if err := checkMandatory(r); err != nil {
			return nil, &CorruptStoreError{Line: line, Err: err}
		}
		if err := s.insert(r); err != nil {
			return nil, &CorruptStoreError{Line: line, Err: err}
		}
	}
	return s, nil
}

func checkMandatory(r *models.PeerRecord) error {
	if err := ValidateName(r.Name); err != nil {
		return err
	}
	if len(r.Address) == 0 {
		return invalid(r.Name, "at least one address is required")
	}
	for _, k := range r.PresharedKeys {
		if !k.Involves(r.Name) {
			return invalid(r.Name, "pair key for %s:%s stored on an unrelated peer", k.A, k.B)
		}
	}
	return nil
}

func wrapCsvError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &CorruptStoreError{Line: pe.Line, Err: pe.Err}
	}
	return err
}

func writeRow(buffer *bytes.Buffer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			buffer.WriteByte(',')
		}
		buffer.WriteByte('"')
		buffer.WriteString(strings.ReplaceAll(f, `"`, `""`))
		buffer.WriteByte('"')
	}
	buffer.WriteString("\r\n")
}

// Encode writes the store with the canonical header and every field quoted.
func Encode(s *Store) []byte {
	var buffer bytes.Buffer
	writeRow(&buffer, Columns())
	for _, r := range s.Peers() {
		fields := make([]string, 0, len(columns))
		for _, c := range columns {
			fields = append(fields, c.encode(r))
		}
		writeRow(&buffer, fields)
	}
	return buffer.Bytes()
}

// Save atomically replaces the database file at path.
func Save(path string, s *Store) error {
	if err := atomic.WriteFile(path, bytes.NewReader(Encode(s))); err != nil {
		return fmt.Errorf("write database %s: %w", path, err)
	}
	return nil
}
