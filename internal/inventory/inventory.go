// Package inventory defines the hosts and tasks mla operates on.
package inventory

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

// DefaultPort is the SSH port used when a host does not set ssh_port.
const DefaultPort = 22

// Host describes one remote machine and how to authenticate against it.
type Host struct {
	// Name is the inventory key of the host.
	Name string `yaml:"-"`

	// Address is the hostname or IP address to dial.
	Address string `yaml:"ssh_address" validate:"required,hostname_rfc1123|ip"`

	// Port is the SSH port (default: 22).
	Port int `yaml:"ssh_port" validate:"omitempty,min=1,max=65535"`

	// User is the login name. Empty means the invoking user.
	User string `yaml:"ssh_user"`

	// Password authenticates the user and answers sudo prompts.
	Password string `yaml:"ssh_password"`

	// KeyFile is the path to a private key used when no password is set.
	KeyFile string `yaml:"ssh_key_file"`
}

// GetPort returns the SSH port, defaulting to 22.
func (h *Host) GetPort() int {
	if h.Port == 0 {
		return DefaultPort
	}
	return h.Port
}

// Endpoint returns the address:port pair to dial.
func (h *Host) Endpoint() string {
	return net.JoinHostPort(h.Address, strconv.Itoa(h.GetPort()))
}

// String returns a human-readable description of the host.
func (h *Host) String() string {
	if h.User != "" {
		return fmt.Sprintf("ssh://%s@%s", h.User, h.Endpoint())
	}
	return fmt.Sprintf("ssh://%s", h.Endpoint())
}

// Inventory is the static set of hosts every task is applied to.
type Inventory struct {
	// Path is the file path the inventory was loaded from.
	Path string `yaml:"-"`

	// Hosts maps host names to their connection details.
	Hosts map[string]*Host `yaml:"hosts" validate:"required,min=1,dive,required"`
}

// Names returns the host names in lexical order.
func (inv *Inventory) Names() []string {
	names := make([]string, 0, len(inv.Hosts))
	for name := range inv.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sorted returns the hosts ordered by name.
func (inv *Inventory) Sorted() []*Host {
	names := inv.Names()
	hosts := make([]*Host, 0, len(names))
	for _, name := range names {
		hosts = append(hosts, inv.Hosts[name])
	}
	return hosts
}

// Addresses returns the addresses of all hosts ordered by host name.
func (inv *Inventory) Addresses() []string {
	var addrs []string
	for _, h := range inv.Sorted() {
		addrs = append(addrs, h.Address)
	}
	return addrs
}

// Task is one declarative operation applied to every host.
type Task struct {
	// Index is the 1-based position of the task in the todos file.
	Index int `yaml:"-"`

	// Module is the name of the module to execute.
	Module string `yaml:"module" validate:"required"`

	// Params are the parameters passed to the module.
	Params map[string]any `yaml:"params"`
}

// String returns a human-readable description of the task.
func (t *Task) String() string {
	return fmt.Sprintf("[%d] %s: %s", t.Index, t.Module, summarizeParams(t.Params))
}

// summarizeParams creates a brief summary of task parameters.
func summarizeParams(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		if len(parts) >= 3 {
			parts = append(parts, "...")
			break
		}
		switch val := params[k].(type) {
		case string:
			if len(val) > 30 {
				val = val[:27] + "..."
			}
			parts = append(parts, fmt.Sprintf("%s=%q", k, val))
		default:
			parts = append(parts, fmt.Sprintf("%s=%v", k, val))
		}
	}

	return "{" + strings.Join(parts, ", ") + "}"
}
