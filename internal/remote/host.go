package remote

import (
	"net"
	"strconv"
)

// DefaultSSHPort is used when a host has no explicit port
const DefaultSSHPort = 22

// Host is a target machine with the roles it serves
type Host struct {
	Name  string
	User  string
	Port  int
	Roles []string
}

// Address returns host:port for dialing
func (h Host) Address() string {
	port := h.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(h.Name, strconv.Itoa(port))
}

func (h Host) String() string {
	if h.User == "" {
		return h.Name
	}
	return h.User + "@" + h.Name
}

// IsLocal reports whether commands for this host run on the local machine
func (h Host) IsLocal() bool {
	return h.Name == "local" || h.Name == "localhost"
}

// HasRole reports whether the host serves role
func (h Host) HasRole(role string) bool {
	for _, r := range h.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HostGroup is an ordered set of hosts addressed together
type HostGroup []Host

// WithRoles returns the hosts serving any of roles. No roles selects every host.
func (g HostGroup) WithRoles(roles ...string) HostGroup {
	if len(roles) == 0 {
		return g
	}

	var out HostGroup
	for _, h := range g {
		for _, role := range roles {
			if h.HasRole(role) {
				out = append(out, h)
				break
			}
		}
	}
	return out
}

// Primary returns the first host of the group
func (g HostGroup) Primary() (Host, bool) {
	if len(g) == 0 {
		return Host{}, false
	}
	return g[0], true
}

// Names returns host names in group order
func (g HostGroup) Names() []string {
	names := make([]string, len(g))
	for i, h := range g {
		names[i] = h.Name
	}
	return names
}
