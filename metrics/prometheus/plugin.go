// Package prometheus registers the Prometheus reporter as a metrics plugin.
package prometheus

import (
	"fmt"

	"github.com/linchenxuan/oncelink/metrics"
	"github.com/linchenxuan/oncelink/plugin"
)

type factory struct{}

// NewFactory returns the factory of the "prometheus" metrics plugin.
func NewFactory() plugin.Factory {
	return &factory{}
}

type reporterPlugin struct {
	*metrics.PrometheusReporter
}

func (p *reporterPlugin) FactoryName() string {
	return "prometheus"
}

func (f *factory) Type() plugin.Type {
	return plugin.Metrics
}

func (f *factory) Name() string {
	return "prometheus"
}

func (f *factory) ConfigType() any {
	return metrics.DefaultPrometheusReporterConfig()
}

// Setup starts a reporter and adds it to the global reporter list.
func (f *factory) Setup(cfgAny any) (plugin.Plugin, error) {
	cfg, ok := cfgAny.(*metrics.PrometheusReporterConfig)
	if !ok {
		return nil, fmt.Errorf("prometheus: unexpected config type %T", cfgAny)
	}

	r, err := metrics.NewPrometheusReporter(cfg)
	if err != nil {
		return nil, err
	}
	metrics.AddReporter(r)
	return &reporterPlugin{r}, nil
}

// Destroy removes the reporter and stops it.
func (f *factory) Destroy(p plugin.Plugin) {
	rp, ok := p.(*reporterPlugin)
	if !ok {
		return
	}
	metrics.RemoveReporter(rp.PrometheusReporter)
	rp.Stop()
}
