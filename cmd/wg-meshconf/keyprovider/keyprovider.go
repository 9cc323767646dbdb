// Package keyprovider produces the wireguard key material used by the peer
// database and the config compiler. Every key travels as the base64 text of a
// 32 byte value.
package keyprovider

import (
	"errors"
	"fmt"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

const (
	KindNative = "native"
	KindWgTool = "wg"
)

var (
	ErrInvalidKeyFormat = errors.New("invalid key format")
	ErrKeyGeneration    = errors.New("key generation failed")
)

// KeyError records the failing operation together with its class
// (ErrInvalidKeyFormat or ErrKeyGeneration) and the underlying cause.
type KeyError struct {
	Op   string
	Kind error
	Err  error
}

func (e *KeyError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *KeyError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Provider is the key material capability consumed by the database and the
// compiler.
type Provider interface {
	GeneratePrivateKey() (string, error)
	DerivePublicKey(privateKey string) (string, error)
	GeneratePresharedKey() (string, error)
}

// New returns the provider registered under kind. wgBinary is only used by the
// "wg" provider.
func New(kind string, wgBinary string) (Provider, error) {
	switch kind {
	case "", KindNative:
		return Native{}, nil
	case KindWgTool:
		if wgBinary == "" {
			wgBinary = "wg"
		}
		return WgTool{Binary: wgBinary}, nil
	default:
		return nil, fmt.Errorf("unknown key provider %q", kind)
	}
}

// ParseKey decodes a base64 encoded 32 byte key.
func ParseKey(key string) (wgtypes.Key, error) {
	k, err := wgtypes.ParseKey(key)
	if err != nil {
		return wgtypes.Key{}, &KeyError{Op: "parse", Kind: ErrInvalidKeyFormat, Err: err}
	}
	return k, nil
}

// Native generates keys in process with wgtypes.
type Native struct{}

var _ Provider = Native{}

func (Native) GeneratePrivateKey() (string, error) {
	k, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return "", &KeyError{Op: "genkey", Kind: ErrKeyGeneration, Err: err}
	}
	return k.String(), nil
}

func (Native) DerivePublicKey(privateKey string) (string, error) {
	k, err := ParseKey(privateKey)
	if err != nil {
		return "", err
	}
	return k.PublicKey().String(), nil
}

func (Native) GeneratePresharedKey() (string, error) {
	k, err := wgtypes.GenerateKey()
	if err != nil {
		return "", &KeyError{Op: "genpsk", Kind: ErrKeyGeneration, Err: err}
	}
	return k.String(), nil
}
