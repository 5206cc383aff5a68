// Package oncelink wires the delivery stack into a process. Plugins provide
// the logger, metrics reporters and transport endpoints; Dial and Serve put a
// client link or a server acceptor on top of a configured endpoint.
package oncelink

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/linchenxuan/oncelink/delivery"
	"github.com/linchenxuan/oncelink/event"
	"github.com/linchenxuan/oncelink/log"
	"github.com/linchenxuan/oncelink/metrics/prometheus"
	"github.com/linchenxuan/oncelink/network/dispatcher"
	"github.com/linchenxuan/oncelink/network/link"
	"github.com/linchenxuan/oncelink/network/transport"
	"github.com/linchenxuan/oncelink/network/transport/kcp"
	"github.com/linchenxuan/oncelink/network/transport/tcp"
	"github.com/linchenxuan/oncelink/network/transport/unix"
	"github.com/linchenxuan/oncelink/plugin"
)

var (
	ErrStopped      = errors.New("oncelink: stopped")
	ErrEndpointMode = errors.New("oncelink: endpoint mode does not match")
)

// Config is the process configuration.
type Config struct {
	// Plugins maps plugin type to implementation name to its config.
	Plugins map[string]any `mapstructure:"plugins"`
	// Reconnect is decoded into a delivery.ReconnectConfig.
	Reconnect map[string]any `mapstructure:"reconnect"`
	// Dispatcher is decoded into a dispatcher.DispatcherCfg.
	Dispatcher map[string]any `mapstructure:"dispatcher"`
	// EventTimeout bounds how long a lifecycle event waits for subscribers.
	EventTimeout time.Duration `mapstructure:"eventTimeout"`
}

// Oncelink holds the components shared by every link of the process.
type Oncelink struct {
	PluginManager *plugin.Manager
	Publisher     *event.Publisher

	reconnect     *delivery.ReconnectConfig
	dispatcherCfg *dispatcher.DispatcherCfg

	mu        sync.Mutex
	links     []*link.Link
	acceptors []*link.Acceptor
	stopped   bool
}

// New sets up the configured plugins and decodes the link policy.
func New(cfg *Config) (*Oncelink, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	m := plugin.NewManager()
	m.RegisterFactory(log.NewFactory())
	m.RegisterFactory(prometheus.NewFactory())
	m.RegisterFactory(tcp.NewFactory())
	m.RegisterFactory(kcp.NewFactory())
	m.RegisterFactory(unix.NewFactory())
	if err := m.SetupPlugins(cfg.Plugins); err != nil {
		m.DestroyPlugins()
		return nil, err
	}

	o := &Oncelink{
		PluginManager: m,
		reconnect:     delivery.DefaultReconnectConfig(),
		dispatcherCfg: dispatcher.DefaultDispatcherCfg(),
	}

	var err error
	if cfg.Reconnect != nil {
		if o.reconnect, err = delivery.DecodeReconnectConfig(cfg.Reconnect); err != nil {
			m.DestroyPlugins()
			return nil, err
		}
	}
	if cfg.Dispatcher != nil {
		if err = decodeDispatcherCfg(cfg.Dispatcher, o.dispatcherCfg); err != nil {
			m.DestroyPlugins()
			return nil, err
		}
	}

	timeout := cfg.EventTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	o.Publisher = event.NewLinkPublisher(timeout)

	log.Info().Int("sendWindow", o.reconnect.SendWindow).Int("maxDelayedAcks", o.reconnect.MaxDelayedAcks).
		Bool("reconnect", o.reconnect.Enabled).Str("limiter", o.dispatcherCfg.Limiter).Msg("oncelink initialized")
	return o, nil
}

func decodeDispatcherCfg(raw map[string]any, cfg *dispatcher.DispatcherCfg) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      cfg,
		ErrorUnused: true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("%w: %v", dispatcher.ErrInvalidDispatcherCfg, err)
	}
	return cfg.Validate()
}

// Reconnect returns the link policy in use.
func (o *Oncelink) Reconnect() *delivery.ReconnectConfig {
	return o.reconnect
}

func (o *Oncelink) endpoint(tag string) (transport.Endpoint, error) {
	p, err := o.PluginManager.GetPlugin(plugin.Transport, tag)
	if err != nil {
		return nil, err
	}
	switch tp := p.(type) {
	case *tcp.Plugin:
		return tp.Endpoint, nil
	case *kcp.Plugin:
		return tp.Endpoint, nil
	case *unix.Plugin:
		return tp.Endpoint, nil
	default:
		return nil, fmt.Errorf("%w: transport plugin %q of type %T", plugin.ErrPluginNotFound, tag, p)
	}
}

// Dial starts the client endpoint tagged tag and returns the link over it.
func (o *Oncelink) Dial(tag string, ch link.Channel) (*link.Link, error) {
	ep, err := o.endpoint(tag)
	if err != nil {
		return nil, err
	}
	d, ok := ep.(*transport.Dialer)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a client endpoint", ErrEndpointMode, tag)
	}

	l, err := link.NewClientLink(d, o.reconnect, ch, link.WithPublisher(o.Publisher))
	if err != nil {
		return nil, err
	}
	disp, err := dispatcher.NewDispatcher(o.dispatcherCfg, l)
	if err != nil {
		_ = l.Close()
		return nil, err
	}

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		_ = l.Close()
		return nil, ErrStopped
	}
	o.links = append(o.links, l)
	o.mu.Unlock()

	if err := d.Start(disp); err != nil {
		_ = l.Close()
		return nil, err
	}
	log.Info().Str("tag", tag).Str("session", l.SessionID().String()).Msg("oncelink dialing")
	return l, nil
}

// Serve starts the server endpoint tagged tag. Every client gets a link
// whose channel newChannel builds.
func (o *Oncelink) Serve(tag string, newChannel link.ChannelFactory) (*link.Acceptor, error) {
	ep, err := o.endpoint(tag)
	if err != nil {
		return nil, err
	}
	srv, ok := ep.(*transport.Server)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a server endpoint", ErrEndpointMode, tag)
	}

	acc := link.NewAcceptor(o.reconnect, newChannel, link.WithPublisher(o.Publisher))
	disp, err := dispatcher.NewDispatcher(o.dispatcherCfg, acc)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return nil, ErrStopped
	}
	o.acceptors = append(o.acceptors, acc)
	o.mu.Unlock()

	if err := srv.Start(disp); err != nil {
		return nil, err
	}
	addr := ""
	if a := srv.Addr(); a != nil {
		addr = a.String()
	}
	log.Info().Str("tag", tag).Str("addr", addr).Msg("oncelink serving")
	return acc, nil
}

// Stop closes every link, so clients say goodbye, then destroys the plugins.
func (o *Oncelink) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	links, acceptors := o.links, o.acceptors
	o.links, o.acceptors = nil, nil
	o.mu.Unlock()

	for _, l := range links {
		_ = l.Close()
	}
	for _, acc := range acceptors {
		acc.Close()
	}
	o.PluginManager.DestroyPlugins()
	log.Info().Msg("oncelink stopped")
}
