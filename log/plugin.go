package log

import (
	"fmt"

	"github.com/linchenxuan/oncelink/plugin"
)

type factory struct{}

// NewFactory returns the factory of the "default" log plugin. Setting it up
// replaces the package default logger; destroying it restores the previous one.
func NewFactory() plugin.Factory {
	return &factory{}
}

type loggerPlugin struct {
	*EventLogger
	prev *EventLogger
}

func (p *loggerPlugin) FactoryName() string {
	return "default"
}

func (f *factory) Type() plugin.Type {
	return plugin.Log
}

func (f *factory) Name() string {
	return "default"
}

func (f *factory) ConfigType() any {
	return DefaultLogCfg()
}

func (f *factory) Setup(cfgAny any) (plugin.Plugin, error) {
	cfg, ok := cfgAny.(*LogCfg)
	if !ok {
		return nil, fmt.Errorf("log: unexpected config type %T", cfgAny)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := NewLogger(cfg)
	return &loggerPlugin{EventLogger: l, prev: SetDefaultLogger(l)}, nil
}

func (f *factory) Destroy(p plugin.Plugin) {
	lp, ok := p.(*loggerPlugin)
	if !ok {
		return
	}
	if lp.prev != nil {
		_defaultLogger.CompareAndSwap(lp.EventLogger, lp.prev)
	}
	lp.Close()
}
