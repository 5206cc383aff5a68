package kcp

import (
	"errors"
	"fmt"

	"github.com/linchenxuan/oncelink/network/transport"
	"github.com/linchenxuan/oncelink/plugin"
)

// FactoryName is the name of the KCP transport in plugin config.
const FactoryName = "kcp"

type factory struct{}

var _ plugin.Factory = (*factory)(nil)

// NewFactory creates a KCP transport plugin factory.
func NewFactory() plugin.Factory {
	return &factory{}
}

// Type returns the plugin type.
func (f *factory) Type() plugin.Type {
	return plugin.Transport
}

// Name returns the factory name used by plugin config.
func (f *factory) Name() string {
	return FactoryName
}

// ConfigType returns the config type for mapstructure decoding.
func (f *factory) ConfigType() any {
	return DefaultKCPCfg("")
}

// Setup builds the endpoint. It is started later with its listener.
func (f *factory) Setup(cfgAny any) (plugin.Plugin, error) {
	cfg, ok := cfgAny.(*KCPCfg)
	if !ok {
		return nil, errors.New("kcp setup failed: invalid config type")
	}
	ep, err := NewEndpoint(cfg)
	if err != nil {
		return nil, fmt.Errorf("kcp setup failed: %w", err)
	}
	return &Plugin{Endpoint: ep}, nil
}

// Destroy closes the endpoint.
func (f *factory) Destroy(p plugin.Plugin) {
	if tp, ok := p.(*Plugin); ok && tp != nil {
		_ = tp.Close()
	}
}

// Plugin is a configured KCP endpoint.
type Plugin struct {
	transport.Endpoint
}

// FactoryName implements plugin.Plugin.
func (p *Plugin) FactoryName() string {
	return FactoryName
}
