package keyprovider

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// WgTool shells out to the wireguard-tools binary (wg genkey, wg pubkey,
// wg genpsk).
type WgTool struct {
	Binary string
}

var _ Provider = WgTool{}

func (w WgTool) run(op string, stdin string) (string, error) {
	cmd := exec.Command(w.Binary, op)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin + "\n")
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return "", &KeyError{Op: op, Kind: ErrKeyGeneration, Err: err}
	}

	key := strings.TrimSpace(string(out))
	if _, err := ParseKey(key); err != nil {
		return "", &KeyError{Op: op, Kind: ErrKeyGeneration, Err: fmt.Errorf("unexpected output from %s", w.Binary)}
	}
	return key, nil
}

func (w WgTool) GeneratePrivateKey() (string, error) {
	return w.run("genkey", "")
}

func (w WgTool) DerivePublicKey(privateKey string) (string, error) {
	if _, err := ParseKey(privateKey); err != nil {
		return "", err
	}
	return w.run("pubkey", privateKey)
}

func (w WgTool) GeneratePresharedKey() (string, error) {
	return w.run("genpsk", "")
}
