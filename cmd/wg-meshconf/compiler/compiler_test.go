package compiler

import (
	"encoding/base64"
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"wg-meshconf/cmd/wg-meshconf/database"
	"wg-meshconf/cmd/wg-meshconf/keyprovider"
	"wg-meshconf/cmd/wg-meshconf/pairkeys"
	"wg-meshconf/models"
)

// RFC 7748 section 6.1 key pairs.
const (
	alicePrivate = "dwdtCnMYpX08FsFyUbJmRd9ML4frwJkqsXf7pR25LCo="
	alicePublic  = "hSDwCYkwp1R0i33ctD73Wg2/Og0mOBr066SpjqqbTmo="
	bobPrivate   = "XasIfmJKikt54X+Lg4AO5m87sSkmGLb9HC+LJ/+I4Os="
	bobPublic    = "3p7bfXt9wbTTW2HC7OQ1Nz+DQ8hbeGdNrfx+FG+IK08="
)

const srvConfVal = `[Interface]
# Name: srv
Address = 10.0.0.1/24
PrivateKey = dwdtCnMYpX08FsFyUbJmRd9ML4frwJkqsXf7pR25LCo=
ListenPort = 51820

[Peer]
# Name: cli
PublicKey = 3p7bfXt9wbTTW2HC7OQ1Nz+DQ8hbeGdNrfx+FG+IK08=
AllowedIPs = 10.0.0.2/32

`

const cliConfVal = `[Interface]
# Name: cli
Address = 10.0.0.2/32
PrivateKey = XasIfmJKikt54X+Lg4AO5m87sSkmGLb9HC+LJ/+I4Os=

[Peer]
# Name: srv
PublicKey = hSDwCYkwp1R0i33ctD73Wg2/Og0mOBr066SpjqqbTmo=
Endpoint = vpn.example.com:51820
AllowedIPs = 10.0.0.1/24

`

type seqKeys struct{ n int }

func (s *seqKeys) GeneratePrivateKey() (string, error) {
	s.n++
	raw := make([]byte, 32)
	raw[0] = byte(s.n)
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (s *seqKeys) GeneratePresharedKey() (string, error) {
	return s.GeneratePrivateKey()
}

// pubOf is a stand-in public key derivation that keeps test output readable.
type pubOf struct{}

func (pubOf) DerivePublicKey(priv string) (string, error) {
	if _, err := keyprovider.ParseKey(priv); err != nil {
		return "", err
	}
	return "pub(" + priv[:4] + ")", nil
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func ptr[T any](v T) *T { return &v }

func add(t *testing.T, s *database.Store, keys *seqKeys, name string, attrs models.Attributes) {
	t.Helper()
	if attrs.Address == nil {
		attrs.Address = []string{fmt.Sprintf("10.0.0.%d/32", s.Len()+1)}
	}
	_, err := s.Add(name, attrs, keys)
	require.NoError(t, err)
}

func sectionNames(cfg models.Config) []string {
	var names []string
	for _, p := range cfg.Peer {
		names = append(names, p.Name)
	}
	return names
}

func TestEndToEnd(t *testing.T) {
	s := database.NewStore()
	_, err := s.Add("srv", models.Attributes{
		Address:    []string{"10.0.0.1/24"},
		Endpoint:   ptr("vpn.example.com"),
		ListenPort: ptr(51820),
		PrivateKey: ptr(alicePrivate),
	}, &seqKeys{})
	require.NoError(t, err)
	_, err = s.Add("cli", models.Attributes{
		Address:    []string{"10.0.0.2/32"},
		PrivateKey: ptr(bobPrivate),
	}, &seqKeys{})
	require.NoError(t, err)

	c := &Compiler{Keys: keyprovider.Native{}, Log: quietLogger()}

	srv, err := c.Compile(s, "srv")
	require.NoError(t, err)
	text, err := Render(srv)
	require.NoError(t, err)
	require.Equal(t, srvConfVal, string(text))

	cli, err := c.Compile(s, "cli")
	require.NoError(t, err)
	text, err = Render(cli)
	require.NoError(t, err)
	require.Equal(t, cliConfVal, string(text))
}

func TestReachabilityGate(t *testing.T) {
	s := database.NewStore()
	keys := &seqKeys{}
	add(t, s, keys, "A", models.Attributes{})
	add(t, s, keys, "B", models.Attributes{})
	add(t, s, keys, "C", models.Attributes{Endpoint: ptr("c.example.com")})

	c := &Compiler{Keys: pubOf{}, Log: quietLogger()}

	a, err := c.Compile(s, "A")
	require.NoError(t, err)
	require.Equal(t, []string{"C"}, sectionNames(a))

	b, err := c.Compile(s, "B")
	require.NoError(t, err)
	require.Equal(t, []string{"C"}, sectionNames(b))

	cc, err := c.Compile(s, "C")
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, sectionNames(cc))
	for _, p := range cc.Peer {
		require.Empty(t, p.Endpoint)
	}
}

func TestPeerSectionAttributes(t *testing.T) {
	s := database.NewStore()
	keys := &seqKeys{}
	add(t, s, keys, "P", models.Attributes{
		Endpoint:            ptr("p.example.com"),
		PersistentKeepalive: ptr(25),
	})
	add(t, s, keys, "Q", models.Attributes{
		Address:             []string{"10.0.0.1/32"},
		AllowedIPs:          []string{"10.0.1.0/24"},
		Endpoint:            ptr("2001:db8::1"),
		ListenPort:          ptr(4500),
		PersistentKeepalive: ptr(99),
	})
	add(t, s, keys, "R", models.Attributes{Endpoint: ptr("203.0.113.7")})

	c := &Compiler{Keys: pubOf{}, Log: quietLogger()}
	cfg, err := c.Compile(s, "P")
	require.NoError(t, err)
	require.Len(t, cfg.Peer, 2)

	q := cfg.Peer[0]
	require.Equal(t, "Q", q.Name)
	q2, _ := s.Get("Q")
	require.Equal(t, "pub("+q2.PrivateKey[:4]+")", q.PublicKey)
	require.Equal(t, []string{"10.0.0.1/32", "10.0.1.0/24"}, q.AllowedIPs)
	require.Equal(t, "[2001:db8::1]:4500", q.Endpoint)
	require.Equal(t, 25, *q.PersistentKeepalive, "keepalive comes from the local peer")
	require.Empty(t, q.PresharedKey)

	r := cfg.Peer[1]
	require.Equal(t, "203.0.113.7:51820", r.Endpoint)

	text, err := Render(cfg)
	require.NoError(t, err)
	require.Contains(t, string(text), "AllowedIPs = 10.0.0.1/32, 10.0.1.0/24\n")

	qcfg, err := c.Compile(s, "Q")
	require.NoError(t, err)
	require.Len(t, qcfg.Peer, 2)
	for _, p := range qcfg.Peer {
		require.Equal(t, 99, *p.PersistentKeepalive)
	}

	// R stores no keepalive, so Q's value must not show up in R's config
	rcfg, err := c.Compile(s, "R")
	require.NoError(t, err)
	require.Len(t, rcfg.Peer, 2)
	require.Equal(t, "Q", rcfg.Peer[1].Name)
	for _, p := range rcfg.Peer {
		require.Nil(t, p.PersistentKeepalive)
	}
}

func TestInterfaceSection(t *testing.T) {
	s := database.NewStore()
	keys := &seqKeys{}
	add(t, s, keys, "P", models.Attributes{
		Address:    []string{"10.0.0.1/24", "fd00::1/64"},
		ListenPort: ptr(51821),
		FwMark:     ptr("0xca6c"),
		DNS:        ptr("1.1.1.1"),
		MTU:        ptr(1420),
		Table:      ptr("off"),
		PreUp:      ptr("echo preup"),
		PostUp:     ptr("echo postup"),
		PreDown:    ptr("echo predown"),
		PostDown:   ptr("echo postdown"),
		SaveConfig: ptr(true),
	})
	p, _ := s.Get("P")

	cfg, err := (&Compiler{Keys: pubOf{}, Log: quietLogger()}).Compile(s, "P")
	require.NoError(t, err)
	text, err := Render(cfg)
	require.NoError(t, err)

	expected := "[Interface]\n" +
		"# Name: P\n" +
		"Address = 10.0.0.1/24, fd00::1/64\n" +
		"PrivateKey = " + p.PrivateKey + "\n" +
		"ListenPort = 51821\n" +
		"FwMark = 0xca6c\n" +
		"DNS = 1.1.1.1\n" +
		"MTU = 1420\n" +
		"Table = off\n" +
		"PreUp = echo preup\n" +
		"PostUp = echo postup\n" +
		"PreDown = echo predown\n" +
		"PostDown = echo postdown\n" +
		"SaveConfig = true\n\n"
	require.Equal(t, expected, string(text))
}

func TestPresharedKeys(t *testing.T) {
	s := database.NewStore()
	keys := &seqKeys{}
	add(t, s, keys, "A", models.Attributes{Endpoint: ptr("a.example.com")})
	add(t, s, keys, "B", models.Attributes{})
	add(t, s, keys, "C", models.Attributes{})

	table, err := (&pairkeys.Assigner{Keys: keys, Log: quietLogger()}).Assign(s)
	require.NoError(t, err)

	c := &Compiler{Keys: pubOf{}, Log: quietLogger(), PresharedKeys: table}
	all, err := c.CompileAll(s)
	require.NoError(t, err)
	require.Len(t, all, 3)

	for _, n := range all {
		for _, p := range n.Config.Peer {
			key, ok := table.Lookup(n.Name, p.Name)
			require.True(t, ok)
			require.Equal(t, key, p.PresharedKey)
		}
	}

	// both ends of a link carry the same key
	require.Equal(t, all[0].Config.Peer[0].PresharedKey, all[1].Config.Peer[0].PresharedKey)

	c.PresharedKeys = pairkeys.Table{}
	_, err = c.Compile(s, "A")
	require.ErrorIs(t, err, ErrMissingPresharedKey)
}

func TestCompileAllFollowsStoreOrder(t *testing.T) {
	s := database.NewStore()
	keys := &seqKeys{}
	for _, n := range []string{"zulu", "alpha", "mike"} {
		add(t, s, keys, n, models.Attributes{Endpoint: ptr(n + ".example.com")})
	}

	all, err := (&Compiler{Keys: pubOf{}, Log: quietLogger()}).CompileAll(s)
	require.NoError(t, err)
	require.Equal(t, "zulu", all[0].Name)
	require.Equal(t, "alpha", all[1].Name)
	require.Equal(t, "mike", all[2].Name)
	require.Equal(t, []string{"alpha", "mike"}, sectionNames(all[0].Config))
}

func TestDeleteThenCompile(t *testing.T) {
	s := database.NewStore()
	keys := &seqKeys{}
	add(t, s, keys, "A", models.Attributes{Endpoint: ptr("a.example.com")})
	add(t, s, keys, "B", models.Attributes{Endpoint: ptr("b.example.com")})
	add(t, s, keys, "C", models.Attributes{})

	require.NoError(t, s.Delete("B"))
	table, err := (&pairkeys.Assigner{Keys: keys, Log: quietLogger()}).Assign(s)
	require.NoError(t, err)
	require.Len(t, table, 1)

	all, err := (&Compiler{Keys: pubOf{}, Log: quietLogger(), PresharedKeys: table}).CompileAll(s)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, n := range all {
		require.NotContains(t, sectionNames(n.Config), "B")
	}
}

func TestCompileErrors(t *testing.T) {
	s := database.NewStore()
	keys := &seqKeys{}
	add(t, s, keys, "A", models.Attributes{Endpoint: ptr("a.example.com")})
	add(t, s, keys, "B", models.Attributes{})

	c := &Compiler{Keys: pubOf{}, Log: quietLogger()}
	_, err := c.Compile(s, "ghost")
	require.ErrorIs(t, err, database.ErrNotFound)

	b, _ := s.Get("B")
	b.PrivateKey = ""
	_, err = c.Compile(s, "A")
	require.ErrorIs(t, err, keyprovider.ErrInvalidKeyFormat)
	_, err = c.Compile(s, "B")
	require.ErrorIs(t, err, keyprovider.ErrInvalidKeyFormat)
}
