package models

// DefaultListenPort is used whenever a listen port is needed but the peer
// record does not carry one.
const DefaultListenPort = 51820

// PairKey is the pre-shared key assigned to the unordered pair {A, B}.
type PairKey struct {
	A   string
	B   string
	Key string
}

// Involves reports whether name is one of the two members of the pair.
func (p PairKey) Involves(name string) bool {
	return p.A == name || p.B == name
}

// Other returns the member of the pair that is not name.
func (p PairKey) Other(name string) string {
	if p.A == name {
		return p.B
	}
	return p.A
}

// SamePair reports whether both entries name the same two peers, in any order.
func (p PairKey) SamePair(o PairKey) bool {
	return (p.A == o.A && p.B == o.B) || (p.A == o.B && p.B == o.A)
}

// PeerRecord is one row of the peer database. Empty strings, nil slices and nil
// pointers mean the attribute is absent.
type PeerRecord struct {
	Name                string
	Address             []string
	Endpoint            string
	AllowedIPs          []string
	ListenPort          *int
	PersistentKeepalive *int
	FwMark              string
	PrivateKey          string
	DNS                 string
	MTU                 *int
	Table               string
	PreUp               string
	PostUp              string
	PreDown             string
	PostDown            string
	SaveConfig          *bool
	PresharedKeys       []PairKey
}

// Clone returns a deep copy of the record.
func (r *PeerRecord) Clone() *PeerRecord {
	c := *r
	c.Address = cloneStrings(r.Address)
	c.AllowedIPs = cloneStrings(r.AllowedIPs)
	c.ListenPort = cloneInt(r.ListenPort)
	c.PersistentKeepalive = cloneInt(r.PersistentKeepalive)
	c.MTU = cloneInt(r.MTU)
	if r.SaveConfig != nil {
		b := *r.SaveConfig
		c.SaveConfig = &b
	}
	if r.PresharedKeys != nil {
		c.PresharedKeys = append([]PairKey(nil), r.PresharedKeys...)
	}
	return &c
}

// Attributes carries the user-settable peer attributes for add and update.
// A nil field is left untouched.
type Attributes struct {
	Address             []string
	Endpoint            *string
	AllowedIPs          []string
	ListenPort          *int
	PersistentKeepalive *int
	FwMark              *string
	PrivateKey          *string
	DNS                 *string
	MTU                 *int
	Table               *string
	PreUp               *string
	PostUp              *string
	PreDown             *string
	PostDown            *string
	SaveConfig          *bool
}

// Apply overwrites every attribute of r that is set in a.
func (a Attributes) Apply(r *PeerRecord) {
	if a.Address != nil {
		r.Address = cloneStrings(a.Address)
	}
	if a.AllowedIPs != nil {
		r.AllowedIPs = cloneStrings(a.AllowedIPs)
	}
	setString(&r.Endpoint, a.Endpoint)
	setString(&r.FwMark, a.FwMark)
	setString(&r.PrivateKey, a.PrivateKey)
	setString(&r.DNS, a.DNS)
	setString(&r.Table, a.Table)
	setString(&r.PreUp, a.PreUp)
	setString(&r.PostUp, a.PostUp)
	setString(&r.PreDown, a.PreDown)
	setString(&r.PostDown, a.PostDown)
	if a.ListenPort != nil {
		r.ListenPort = cloneInt(a.ListenPort)
	}
	if a.PersistentKeepalive != nil {
		r.PersistentKeepalive = cloneInt(a.PersistentKeepalive)
	}
	if a.MTU != nil {
		r.MTU = cloneInt(a.MTU)
	}
	if a.SaveConfig != nil {
		b := *a.SaveConfig
		r.SaveConfig = &b
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func cloneStrings(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return append([]string(nil), s...)
}
