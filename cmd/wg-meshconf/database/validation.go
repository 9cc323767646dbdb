package database

import (
	"net/netip"
	"strings"

	"wg-meshconf/cmd/wg-meshconf/keyprovider"
	"wg-meshconf/models"
)

const (
	maxPort = (1 << 16) - 1
)

// ValidateName checks that name can be used as a database key and as a file
// name. Commas and colons are reserved by the PresharedKeys column encoding.
func ValidateName(name string) error {
	if name == "" {
		return invalid(name, "name must not be empty")
	}
	if strings.ContainsAny(name, ",:/\\\r\n") || name == "." || name == ".." {
		return invalid(name, "name must not contain ',', ':', path separators or line breaks")
	}
	if strings.TrimSpace(name) != name {
		return invalid(name, "name must not start or end with whitespace")
	}
	return nil
}

func validatePrefixes(name, attr string, prefixes []string) error {
	for _, val := range prefixes {
		if p, err := netip.ParsePrefix(val); err != nil || !p.IsValid() {
			return invalid(name, "%s %q is not in CIDR notation", attr, val)
		}
	}
	return nil
}

func validateEndpoint(name, endpoint string) error {
	if strings.ContainsAny(endpoint, " \t\r\n,") {
		return invalid(name, "endpoint %q contains whitespace or commas", endpoint)
	}
	if strings.Contains(endpoint, ":") {
		// only a bare IPv6 address may contain colons, the port comes from ListenPort
		if addr, err := netip.ParseAddr(endpoint); err != nil || !addr.Is6() {
			return invalid(name, "endpoint %q must be a host or address without a port", endpoint)
		}
	}
	return nil
}

func validateScalar(name, attr, val string) error {
	if strings.ContainsAny(val, "\r\n") {
		return invalid(name, "%s must not contain line breaks", attr)
	}
	return nil
}

// validateRecord checks a record before it enters the store through Add or
// Update.
func validateRecord(r *models.PeerRecord) error {
	if err := ValidateName(r.Name); err != nil {
		return err
	}
	if len(r.Address) == 0 {
		return invalid(r.Name, "at least one address is required")
	}
	if err := validatePrefixes(r.Name, "address", r.Address); err != nil {
		return err
	}
	if err := validatePrefixes(r.Name, "allowed ip", r.AllowedIPs); err != nil {
		return err
	}
	if r.Endpoint != "" {
		if err := validateEndpoint(r.Name, r.Endpoint); err != nil {
			return err
		}
	}
	if r.ListenPort != nil && (*r.ListenPort < 1 || *r.ListenPort > maxPort) {
		return invalid(r.Name, "listen port %d out of range 1-%d", *r.ListenPort, maxPort)
	}
	if r.PersistentKeepalive != nil && (*r.PersistentKeepalive < 0 || *r.PersistentKeepalive > maxPort) {
		return invalid(r.Name, "persistent keepalive %d out of range 0-%d", *r.PersistentKeepalive, maxPort)
	}
	if r.MTU != nil && *r.MTU <= 0 {
		return invalid(r.Name, "mtu %d must be positive", *r.MTU)
	}
	if r.PrivateKey != "" {
		if _, err := keyprovider.ParseKey(r.PrivateKey); err != nil {
			return invalid(r.Name, "private key: %v", err)
		}
	}

	scalars := [...]struct{ attr, val string }{
		{"fwmark", r.FwMark},
		{"dns", r.DNS},
		{"table", r.Table},
		{"preup", r.PreUp},
		{"postup", r.PostUp},
		{"predown", r.PreDown},
		{"postdown", r.PostDown},
	}
	for _, s := range scalars {
		if err := validateScalar(r.Name, s.attr, s.val); err != nil {
			return err
		}
	}
	return nil
}
