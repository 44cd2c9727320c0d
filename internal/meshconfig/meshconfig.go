// Package meshconfig loads a static mesh topology for the demo daemon from
// a YAML file: the local node's identity plus every peer and its links.
package meshconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"linkmesh/internal/registry"
)

// LinkSpec describes one configured UDP path to a peer.
type LinkSpec struct {
	Remote       string        `yaml:"remote"`
	Local        string        `yaml:"local,omitempty"`
	Priority     uint8         `yaml:"priority"`
	PingInterval time.Duration `yaml:"ping_interval"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`
	Precision    int64         `yaml:"precision"`
	Dynamic      bool          `yaml:"dynamic,omitempty"`
}

// PeerSpec describes one peer host and its links.
type PeerSpec struct {
	ID     registry.NodeID `yaml:"id"`
	Name   string          `yaml:"name"`
	Policy string          `yaml:"policy"`
	Links  []LinkSpec      `yaml:"links"`
}

// Mesh is the full static topology: this node's identity, the tap
// interface name, and the set of configured peers.
type Mesh struct {
	LocalID   registry.NodeID `yaml:"local_id"`
	Interface string          `yaml:"interface"`
	Key       string          `yaml:"key,omitempty"` // hex-encoded ChaCha20-Poly1305 key; empty disables sealing
	Peers     []PeerSpec      `yaml:"peers"`
}

// ParsePolicy maps a topology file's policy string to a registry.Policy.
func ParsePolicy(s string) (registry.Policy, error) {
	switch s {
	case "passive", "":
		return registry.Passive, nil
	case "round_robin":
		return registry.RoundRobin, nil
	case "active":
		return registry.Active, nil
	default:
		return 0, fmt.Errorf("meshconfig: unknown policy %q", s)
	}
}

// Load reads and parses a mesh topology file.
func Load(path string) (*Mesh, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("meshconfig: read %s: %w", path, err)
	}
	var m Mesh
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("meshconfig: parse %s: %w", path, err)
	}
	return &m, nil
}
