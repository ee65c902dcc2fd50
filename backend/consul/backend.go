package consul

import (
	"context"
	"sync"

	"github.com/hashicorp/consul/api"
	"github.com/mwantia/unionfs/backend"
)

// ConsulBackend provides a small-object branch on HashiCorp Consul KV.
//
// Architecture:
// - Each object is one KV entry holding content and minimal metadata
//   (mode, size, timestamps) together as JSON
// - Directories are entries without content
// - Prefix is configurable (default: "unionfs/")
//
// Limitations:
// - Consul KV has a 512KB limit per value
// - No special-file support; best suited for configuration branches
type ConsulBackend struct {
	mu     sync.RWMutex
	client *api.Client
	kv     *api.KV

	config *ConsulBackendConfig
}

// ConsulBackendConfig contains configuration options for the Consul backend
type ConsulBackendConfig struct {
	// Address of the Consul server (default: "127.0.0.1:8500")
	Address string

	// Token for Consul ACL authentication (optional)
	Token string

	// Datacenter to use (optional)
	Datacenter string

	// Prefix for all keys in Consul KV (default: "unionfs/")
	Prefix string
}

// NewConsulBackend creates a new Consul-backed branch backend
func NewConsulBackend(config *ConsulBackendConfig) (*ConsulBackend, error) {
	if config == nil {
		config = &ConsulBackendConfig{}
	}
	if config.Address == "" {
		config.Address = "127.0.0.1:8500"
	}
	if config.Prefix == "" {
		config.Prefix = "unionfs/"
	}

	apiConfig := api.DefaultConfig()
	apiConfig.Address = config.Address
	apiConfig.Token = config.Token
	apiConfig.Datacenter = config.Datacenter

	client, err := api.NewClient(apiConfig)
	if err != nil {
		return nil, err
	}

	return &ConsulBackend{
		client: client,
		kv:     client.KV(),
		config: config,
	}, nil
}

// Name returns the identifier name defined for this backend
func (*ConsulBackend) Name() string {
	return "consul"
}

// Open verifies the Consul agent is reachable.
func (cb *ConsulBackend) Open(ctx context.Context) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	_, err := cb.client.Agent().Self()
	return err
}

// Close is part of the lifecycle behaviour and gets called when a branch
// using this backend is detached.
func (cb *ConsulBackend) Close(ctx context.Context) error {
	return nil
}

// GetCapabilities returns a list of capabilities supported by this backend.
func (cb *ConsulBackend) GetCapabilities() *backend.BackendCapabilities {
	return &backend.BackendCapabilities{
		Capabilities: []backend.BackendCapability{
			backend.CapabilityObjectStorage,
		},
		MaxObjectSize: 524288, // Consul KV value limit
	}
}
