package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"wg-meshconf/cmd"
	"wg-meshconf/cmd/wg-meshconf/keyprovider"
	"wg-meshconf/cmd/wg-meshconf/logs"
	"wg-meshconf/cmd/wg-meshconf/manager"
	"wg-meshconf/models"
)

const (
	appName  = "wg-meshconf"
	debugEnv = "WG_MESHCONF_DEBUG"
)

// session is what every subcommand needs once the global flags are resolved.
type session struct {
	conf models.MeshConf
	log  *logrus.Logger
	mgr  *manager.Manager
}

func loadConf(cCtx *cli.Context) (models.MeshConf, []string, error) {
	conf := models.DefaultMeshConf()

	path := cCtx.String("conf")
	md, err := toml.DecodeFile(path, &conf)
	if err != nil {
		// the default file is optional, a named one is not
		if errors.Is(err, fs.ErrNotExist) && !cCtx.IsSet("conf") {
			return models.DefaultMeshConf(), nil, nil
		}
		return conf, nil, fmt.Errorf("invalid toml conf file %s: %w", path, err)
	}

	var undecoded []string
	for _, key := range md.Undecoded() {
		undecoded = append(undecoded, key.String())
	}
	return conf, undecoded, nil
}

func (s *session) setup(cCtx *cli.Context, stdout, stderr io.Writer) error {
	conf, undecoded, err := loadConf(cCtx)
	if err != nil {
		return err
	}
	if cCtx.IsSet("database") {
		conf.Database.Path = cCtx.String("database")
	}
	if cCtx.IsSet("key-provider") {
		conf.Keys.Provider = cCtx.String("key-provider")
	}
	if cCtx.IsSet("log-format") {
		conf.Log.Format = cCtx.String("log-format")
	}
	if cCtx.Bool("debug") {
		conf.Log.Level = logrus.DebugLevel.String()
	}

	l, err := logs.New(logs.Options{Level: conf.Log.Level, Format: conf.Log.Format, Output: stderr})
	if err != nil {
		return err
	}
	for _, key := range undecoded {
		l.WithField("key", key).Warn("unknown conf key ignored")
	}

	keys, err := keyprovider.New(conf.Keys.Provider, conf.Keys.WgBinary)
	if err != nil {
		return err
	}

	s.conf = conf
	s.log = l
	s.mgr = &manager.Manager{
		Path:  conf.Database.Path,
		Keys:  keys,
		Log:   l,
		Out:   stdout,
		Color: isTerminal(stdout),
	}
	l.WithFields(logrus.Fields{"database": conf.Database.Path, "keys": conf.Keys.Provider}).Debug("session ready")
	return nil
}

// isTerminal reports whether w is an interactive terminal; table colours are
// only written there.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func peerName(cCtx *cli.Context) (string, error) {
	if cCtx.NArg() != 1 {
		return "", fmt.Errorf("%s expects exactly one peer name", cCtx.Command.Name)
	}
	return cCtx.Args().First(), nil
}

func optionalPeerName(cCtx *cli.Context) (string, error) {
	if cCtx.NArg() > 1 {
		return "", fmt.Errorf("%s expects at most one peer name", cCtx.Command.Name)
	}
	return cCtx.Args().First(), nil
}

func peerFlags(add bool) []cli.Flag {
	listenPort := &cli.IntFlag{Name: "listenport", Usage: "port the interface listens on"}
	if add {
		listenPort.Value = models.DefaultListenPort
	}
	return []cli.Flag{
		&cli.StringSliceFlag{Name: "address", Usage: "interface address in CIDR form, repeatable", Required: add},
		&cli.StringFlag{Name: "endpoint", Usage: "host or IP other peers dial, empty if unreachable"},
		&cli.StringSliceFlag{Name: "allowedips", Usage: "extra prefix routed to this peer, repeatable"},
		&cli.StringFlag{Name: "privatekey", Usage: "base64 private key, generated when omitted"},
		listenPort,
		&cli.IntFlag{Name: "persistentkeepalive", Usage: "keepalive interval in seconds towards peers"},
		&cli.StringFlag{Name: "fwmark", Usage: "firewall mark for outgoing packets"},
		&cli.StringFlag{Name: "dns", Usage: "DNS servers of the interface"},
		&cli.IntFlag{Name: "mtu", Usage: "interface MTU"},
		&cli.StringFlag{Name: "table", Usage: "routing table for the interface routes"},
		&cli.StringFlag{Name: "preup", Usage: "command run before the interface is up"},
		&cli.StringFlag{Name: "postup", Usage: "command run after the interface is up"},
		&cli.StringFlag{Name: "predown", Usage: "command run before the interface is down"},
		&cli.StringFlag{Name: "postdown", Usage: "command run after the interface is down"},
		&cli.BoolFlag{Name: "saveconfig", Usage: "let wg-quick save the running config on shutdown"},
	}
}

// peerAttributes collects the attribute flags present on the command line.
// For addpeer the listen port default counts as present.
func peerAttributes(cCtx *cli.Context, add bool) models.Attributes {
	var a models.Attributes

	str := func(name string) *string {
		if !cCtx.IsSet(name) {
			return nil
		}
		v := strings.TrimSpace(cCtx.String(name))
		return &v
	}
	num := func(name string) *int {
		if !cCtx.IsSet(name) {
			return nil
		}
		v := cCtx.Int(name)
		return &v
	}

	list := func(name string) []string {
		if !cCtx.IsSet(name) {
			return nil
		}
		// set but empty clears the list
		l := []string{}
		for _, v := range cCtx.StringSlice(name) {
			if v = strings.TrimSpace(v); v != "" {
				l = append(l, v)
			}
		}
		return l
	}

	a.Address = list("address")
	a.AllowedIPs = list("allowedips")
	a.Endpoint = str("endpoint")
	a.PrivateKey = str("privatekey")
	a.FwMark = str("fwmark")
	a.DNS = str("dns")
	a.Table = str("table")
	a.PreUp = str("preup")
	a.PostUp = str("postup")
	a.PreDown = str("predown")
	a.PostDown = str("postdown")
	a.ListenPort = num("listenport")
	if add && a.ListenPort == nil {
		port := cCtx.Int("listenport")
		a.ListenPort = &port
	}
	a.PersistentKeepalive = num("persistentkeepalive")
	a.MTU = num("mtu")
	if cCtx.IsSet("saveconfig") {
		v := cCtx.Bool("saveconfig")
		a.SaveConfig = &v
	}
	return a
}

func newApp(stdout, stderr io.Writer) *cli.App {
	s := &session{}

	app := &cli.App{
		Name:      appName,
		Usage:     "generate wireguard full mesh configurations from a peer database",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "conf",
				Aliases: []string{"c"},
				Value:   cmd.DefaultMeshTomlName,
				Usage:   "tool toml conf file, optional unless named explicitly",
			},
			&cli.StringFlag{
				Name:    "database",
				Aliases: []string{"d"},
				Usage:   "peer database csv file (default from conf, else database.csv)",
			},
			&cli.StringFlag{
				Name:  "key-provider",
				Usage: "key material provider: native or wg",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log output format: text or json",
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "enable debug logging",
				EnvVars: []string{debugEnv},
			},
		},
		Before: func(cCtx *cli.Context) error {
			// version works without a readable conf
			if cCtx.Args().First() == "version" {
				return nil
			}
			return s.setup(cCtx, stdout, stderr)
		},
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "create the database, or fill in missing listen ports and private keys",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "with-psk", Usage: "also assign a pre-shared key to every peer pair"},
				},
				Action: func(cCtx *cli.Context) error {
					withPSK := s.conf.Output.PresharedKeys
					if cCtx.IsSet("with-psk") {
						withPSK = cCtx.Bool("with-psk")
					}
					return s.mgr.Init(withPSK)
				},
			},
			{
				Name:      "addpeer",
				Usage:     "add a peer to the database",
				ArgsUsage: "NAME",
				Flags:     peerFlags(true),
				Action: func(cCtx *cli.Context) error {
					name, err := peerName(cCtx)
					if err != nil {
						return err
					}
					return s.mgr.AddPeer(name, peerAttributes(cCtx, true))
				},
			},
			{
				Name:      "updatepeer",
				Usage:     "change attributes of an existing peer",
				ArgsUsage: "NAME",
				Flags:     peerFlags(false),
				Action: func(cCtx *cli.Context) error {
					name, err := peerName(cCtx)
					if err != nil {
						return err
					}
					return s.mgr.UpdatePeer(name, peerAttributes(cCtx, false))
				},
			},
			{
				Name:      "delpeer",
				Usage:     "delete a peer from the database",
				ArgsUsage: "NAME",
				Action: func(cCtx *cli.Context) error {
					name, err := peerName(cCtx)
					if err != nil {
						return err
					}
					return s.mgr.DelPeer(name)
				},
			},
			{
				Name:      "showpeers",
				Usage:     "print the database as a table",
				ArgsUsage: "[NAME]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "show every column, even empty ones"},
				},
				Action: func(cCtx *cli.Context) error {
					name, err := optionalPeerName(cCtx)
					if err != nil {
						return err
					}
					return s.mgr.ShowPeers(name, cCtx.Bool("verbose"))
				},
			},
			{
				Name:      "genconfig",
				Usage:     "write a wg-quick config for one peer or all of them",
				ArgsUsage: "[NAME]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output directory (default from conf, else output)"},
					&cli.BoolFlag{Name: "with-psk", Usage: "add pairwise pre-shared keys, stored back in the database"},
					&cli.BoolFlag{Name: "qrcode", Usage: "also write a png qr code per config"},
				},
				Action: func(cCtx *cli.Context) error {
					name, err := optionalPeerName(cCtx)
					if err != nil {
						return err
					}
					opts := manager.GenOptions{
						OutputDir:     s.conf.Output.Directory,
						PresharedKeys: s.conf.Output.PresharedKeys,
						QRCode:        s.conf.Output.QRCode,
					}
					if cCtx.IsSet("output") {
						opts.OutputDir = cCtx.String("output")
					}
					if cCtx.IsSet("with-psk") {
						opts.PresharedKeys = cCtx.Bool("with-psk")
					}
					if cCtx.IsSet("qrcode") {
						opts.QRCode = cCtx.Bool("qrcode")
					}
					written, err := s.mgr.GenConfig(name, opts)
					if err != nil {
						return err
					}
					s.log.WithFields(logrus.Fields{"count": len(written), "dir": opts.OutputDir}).Info("configs generated")
					return nil
				},
			},
			{
				Name:  "version",
				Usage: "print build information",
				Action: func(cCtx *cli.Context) error {
					_, err := fmt.Fprint(stdout, cmd.BuildVersionOutput(appName))
					return err
				},
			},
		},
	}
	return app
}

// takesValue maps every name and alias of flags to whether the flag consumes
// the next argument.
func takesValue(flags []cli.Flag) map[string]bool {
	m := make(map[string]bool)
	for _, f := range flags {
		_, isBool := f.(*cli.BoolFlag)
		for _, n := range f.Names() {
			m[n] = !isBool
		}
	}
	return m
}

// skipFlags returns the index of the first positional argument in args.
func skipFlags(args []string, values map[string]bool) int {
	i := 0
	for i < len(args) {
		a := args[i]
		if a == "--" || len(a) < 2 || a[0] != '-' {
			return i
		}
		name, _, inline := strings.Cut(strings.TrimLeft(a, "-"), "=")
		i++
		if !inline && values[name] {
			i++
		}
	}
	// a trailing flag may be missing its value
	return min(i, len(args))
}

// positionalLast moves the subcommand's positional arguments behind its flags
// so that "addpeer srv --address ..." parses like "addpeer --address ... srv".
// urfave/cli stops reading flags at the first positional argument.
func positionalLast(app *cli.App, args []string) []string {
	if len(args) < 2 {
		return args
	}
	i := 1 + skipFlags(args[1:], takesValue(app.Flags))
	if i >= len(args) {
		return args
	}
	command := app.Command(args[i])
	if command == nil {
		return args
	}

	values := takesValue(command.Flags)
	out := slices.Clone(args[:i+1])
	var positional []string
	rest := args[i+1:]
	for len(rest) > 0 {
		if rest[0] == "--" {
			positional = append(positional, rest[1:]...)
			break
		}
		n := skipFlags(rest, values)
		out = append(out, rest[:n]...)
		rest = rest[n:]
		if len(rest) > 0 && rest[0] != "--" {
			positional = append(positional, rest[0])
			rest = rest[1:]
		}
	}
	if len(positional) > 0 {
		out = append(out, "--")
		out = append(out, positional...)
	}
	return out
}

func execute(stdout, stderr io.Writer, args []string) error {
	app := newApp(stdout, stderr)
	return app.Run(positionalLast(app, args))
}

func main() {
	if err := execute(os.Stdout, os.Stderr, os.Args); err != nil {
		logrus.Fatal(err)
	}
}
