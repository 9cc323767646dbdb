package models

// Interface is the [Interface] section of a wg-quick config.
type Interface struct {
	Name       string   `wg:"Name" comment:"true"`
	Address    []string `wg:"Address" singleline:"true"`
	PrivateKey string   `wg:"PrivateKey"`
	ListenPort *int     `wg:"ListenPort"`
	FwMark     string   `wg:"FwMark"`
	DNS        string   `wg:"DNS"`
	MTU        *int     `wg:"MTU"`
	Table      string   `wg:"Table"`
	PreUp      string   `wg:"PreUp"`
	PostUp     string   `wg:"PostUp"`
	PreDown    string   `wg:"PreDown"`
	PostDown   string   `wg:"PostDown"`
	SaveConfig *bool    `wg:"SaveConfig"`
}

// Peer is one [Peer] section, describing a remote peer as seen from the
// interface owner.
type Peer struct {
	Name                string   `wg:"Name" comment:"true"`
	PublicKey           string   `wg:"PublicKey"`
	Endpoint            string   `wg:"Endpoint"`
	AllowedIPs          []string `wg:"AllowedIPs" singleline:"true"`
	PersistentKeepalive *int     `wg:"PersistentKeepalive"`
	PresharedKey        string   `wg:"PresharedKey"`
}

type Config struct {
	Intrfc Interface `wg:"Interface"`
	Peer   []Peer    `wg:"Peer"`
}
