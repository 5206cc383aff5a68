package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/linchenxuan/oncelink/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	_metricsChanSize     = 65536
	_serviceName         = "oncelink-exporter"
	_healthCheckInterval = 30 * time.Second
)

// ErrInvalidPrometheusConfig is returned by Validate.
var ErrInvalidPrometheusConfig = errors.New("invalid prometheus reporter config")

type metricType int

const (
	_metricTypeCounter metricType = iota
	_metricTypeGauge
)

type metricOpt struct {
	subsystem   string
	name        string
	constLabels map[string]string
}

func newMetricOpt(rc *Record, extLabels map[string]string) *metricOpt {
	opts := &metricOpt{
		subsystem:   strings.ReplaceAll(rc.Metrics().Group(), ".", "_"),
		name:        strings.ReplaceAll(rc.Metrics().Name(), ".", "_"),
		constLabels: make(map[string]string, len(rc.Dimensions())+len(extLabels)),
	}

	for k, v := range extLabels {
		opts.constLabels[k] = strings.ReplaceAll(v, ".", "_")
	}
	for k, v := range rc.Dimensions() {
		opts.constLabels[k] = strings.ReplaceAll(v, ".", "_")
	}
	return opts
}

// promGauge keeps the running sum needed to average Avg and Stopwatch records.
type promGauge struct {
	prometheus.Gauge
	value float64
	cnt   int
	extreme float64
	set     bool
}

func newPromGauge(reg prometheus.Registerer, rc *Record, extLabels map[string]string) (*metricWrapper, error) {
	o := newMetricOpt(rc, extLabels)
	g := &promGauge{
		Gauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem:   o.subsystem,
			Name:        o.name,
			ConstLabels: o.constLabels,
		}),
	}
	if err := reg.Register(g.Gauge); err != nil {
		return nil, err
	}
	if err := g.merge(rc); err != nil {
		log.Error().Err(err).Msg("prometheus gauge init")
	}
	return &metricWrapper{m: g, mt: _metricTypeGauge}, nil
}

func (p *promGauge) merge(rc *Record) error {
	v := float64(rc.Value())
	switch rc.Metrics().Policy() {
	case Policy_Set:
		p.Set(v)
	case Policy_Sum:
		p.Add(v)
	case Policy_Max:
		if !p.set || v > p.extreme {
			p.extreme = v
			p.Set(v)
		}
	case Policy_Min:
		if !p.set || v < p.extreme {
			p.extreme = v
			p.Set(v)
		}
	case Policy_Avg, Policy_Stopwatch:
		raw, c := rc.RawData()
		p.value += float64(raw)
		p.cnt += c
		if p.cnt <= 0 {
			return fmt.Errorf("metrics(%s) count invalid", rc.Metrics().Name())
		}
		p.Set(p.value / float64(p.cnt))
	default:
		return fmt.Errorf("metrics(%s) policy invalid", rc.Metrics().Name())
	}
	p.set = true
	return nil
}

func newPromCounter(reg prometheus.Registerer, rc *Record, extLabels map[string]string) (*metricWrapper, error) {
	o := newMetricOpt(rc, extLabels)
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem:   o.subsystem,
		Name:        o.name,
		ConstLabels: o.constLabels,
	})
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	c.Add(float64(rc.Value()))
	return &metricWrapper{m: c, mt: _metricTypeCounter}, nil
}

// metricWrapper holds either a counter or a promGauge.
type metricWrapper struct {
	m  prometheus.Metric
	mt metricType
}

func (m *metricWrapper) merge(rc *Record) {
	switch m.mt {
	case _metricTypeGauge:
		if g, ok := m.m.(*promGauge); ok {
			if err := g.merge(rc); err != nil {
				log.Error().Err(err).Msg("prometheus merge")
			}
			return
		}
	case _metricTypeCounter:
		if c, ok := m.m.(prometheus.Counter); ok {
			c.Add(float64(rc.Value()))
			return
		}
	}
	log.Error().Str("promtype", fmt.Sprintf("%T", m.m)).
		Int("metrictype", int(m.mt)).Msg("prometheus merge failed")
}

// PrometheusReporterConfig configures the Prometheus reporter.
type PrometheusReporterConfig struct {
	Tag               string            `mapstructure:"tag"`
	ListenAddr        string            `mapstructure:"listenAddr"` // empty picks a free port
	MetricPath        string            `mapstructure:"metricPath"`
	UsePush           bool              `mapstructure:"usePush"`
	PushAddr          string            `mapstructure:"pushAddr"`
	PushInterval      time.Duration     `mapstructure:"pushInterval"`
	PushJobName       string            `mapstructure:"pushJobName"`
	ExtLabels         map[string]string `mapstructure:"extLabels"`
	EnableHealthCheck bool              `mapstructure:"enableHealthCheck"`
	HealthCheckPath   string            `mapstructure:"healthCheckPath"`
}

// DefaultPrometheusReporterConfig returns a config serving /metrics on a free port.
func DefaultPrometheusReporterConfig() *PrometheusReporterConfig {
	return &PrometheusReporterConfig{
		MetricPath:      "/metrics",
		PushInterval:    15 * time.Second,
		PushJobName:     "oncelink",
		HealthCheckPath: "/health",
	}
}

// GetName returns the config name.
func (x *PrometheusReporterConfig) GetName() string {
	return "prometheus"
}

// Validate checks the config.
func (x *PrometheusReporterConfig) Validate() error {
	if x.MetricPath == "" || !strings.HasPrefix(x.MetricPath, "/") {
		return fmt.Errorf("%w: metricPath %q", ErrInvalidPrometheusConfig, x.MetricPath)
	}
	if x.UsePush {
		if x.PushAddr == "" {
			return fmt.Errorf("%w: pushAddr is required with usePush", ErrInvalidPrometheusConfig)
		}
		if x.PushInterval <= 0 {
			return fmt.Errorf("%w: pushInterval %v", ErrInvalidPrometheusConfig, x.PushInterval)
		}
	}
	if x.EnableHealthCheck && x.HealthCheckPath == x.MetricPath {
		return fmt.Errorf("%w: healthCheckPath collides with metricPath", ErrInvalidPrometheusConfig)
	}
	return nil
}

// extLabelsStr is the sorted ext label set, part of every series key.
func (x *PrometheusReporterConfig) extLabelsStr() string {
	keys := make([]string, 0, len(x.ExtLabels))
	for k := range x.ExtLabels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(x.ExtLabels[k])
		sb.WriteString(";")
	}
	return sb.String()
}

// PrometheusReporter converts records into Prometheus series served over HTTP
// and optionally pushed to a gateway. Records are merged on one goroutine.
type PrometheusReporter struct {
	cfg          *PrometheusReporterConfig
	extLabels    string
	registry     *prometheus.Registry
	promSvr      *http.Server
	addr         net.Addr
	pusher       *push.Pusher
	metricsChan  chan Record
	metrics      map[string]*metricWrapper
	ctx          context.Context
	cancel       context.CancelFunc
	lastCheck    atomic.Int64
	healthStatus atomic.Int32
	dropped      atomic.Uint64
}

// NewPrometheusReporter validates cfg and starts the reporter.
func NewPrometheusReporter(cfg *PrometheusReporterConfig) (*PrometheusReporter, error) {
	if cfg == nil {
		cfg = DefaultPrometheusReporterConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	reg := prometheus.NewRegistry()
	x := &PrometheusReporter{
		cfg:         cfg,
		extLabels:   cfg.extLabelsStr(),
		registry:    reg,
		metricsChan: make(chan Record, _metricsChanSize),
		metrics:     map[string]*metricWrapper{},
		ctx:         ctx,
		cancel:      cancel,
	}
	if err := x.start(); err != nil {
		cancel()
		return nil, err
	}
	return x, nil
}

// Report queues a record. It drops the record when the queue is full.
func (x *PrometheusReporter) Report(r Record) {
	select {
	case x.metricsChan <- r:
	default:
		if x.dropped.Add(1) == 1 {
			log.Error().Msg("metrics chan full")
		}
	}
}

// Addr is the address the HTTP endpoint listens on.
func (x *PrometheusReporter) Addr() net.Addr {
	return x.addr
}

// Gatherer exposes the registry the reporter writes to.
func (x *PrometheusReporter) Gatherer() prometheus.Gatherer {
	return x.registry
}

func (x *PrometheusReporter) start() error {
	if err := x.startHTTPSvr(); err != nil {
		return err
	}
	x.startAggregate()
	if x.cfg.UsePush {
		x.startPusher()
	}
	x.startHealthCheck()
	return nil
}

// Stop ends every goroutine and closes the HTTP server.
func (x *PrometheusReporter) Stop() {
	x.cancel()
	if x.promSvr != nil {
		if err := x.promSvr.Close(); err != nil {
			log.Error().Err(err).Msg("stop prometheus http server")
		}
	}
}

func (x *PrometheusReporter) startPusher() {
	x.pusher = push.New(x.cfg.PushAddr, x.cfg.PushJobName).Gatherer(x.registry)
	go func() {
		log.Info().Str("addr", x.cfg.PushAddr).Msg("prometheus pusher started")
		t := time.NewTicker(x.cfg.PushInterval)
		defer t.Stop()
		for {
			select {
			case <-x.ctx.Done():
				log.Info().Msg("prometheus pusher end")
				return
			case <-t.C:
				ctx, cancel := context.WithTimeout(x.ctx, 5*time.Second)
				if err := x.pusher.PushContext(ctx); err != nil {
					log.Error().Err(err).Msg("prometheus push")
				}
				cancel()
			}
		}
	}()
}

func (x *PrometheusReporter) startHTTPSvr() error {
	l, err := net.Listen("tcp", x.cfg.ListenAddr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(x.cfg.MetricPath, promhttp.HandlerFor(x.registry, promhttp.HandlerOpts{}))
	if x.cfg.EnableHealthCheck {
		mux.HandleFunc(x.cfg.HealthCheckPath, x.healthCheckHandler)
		log.Info().Str("path", x.cfg.HealthCheckPath).Msg("health check endpoint enabled")
	}

	x.addr = l.Addr()
	x.promSvr = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := x.promSvr.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("prometheus http serve")
		}
	}()
	log.Info().Str("url", path.Join(l.Addr().String(), x.cfg.MetricPath)).Msg("prometheus http start listen on")
	return nil
}

func (x *PrometheusReporter) startAggregate() {
	go func() {
		for {
			select {
			case rc := <-x.metricsChan:
				x.merge(&rc)
			case <-x.ctx.Done():
				return
			}
		}
	}()
}

func (x *PrometheusReporter) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]any{
		"service":   _serviceName,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	status := http.StatusOK
	if x.healthStatus.Load() == 0 {
		response["status"] = "healthy"
	} else {
		response["status"] = "unhealthy"
		response["message"] = "metrics reporter is falling behind"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

func (x *PrometheusReporter) startHealthCheck() {
	if !x.cfg.EnableHealthCheck {
		return
	}
	x.lastCheck.Store(time.Now().UnixNano())

	go func() {
		t := time.NewTicker(_healthCheckInterval)
		defer t.Stop()
		for {
			select {
			case <-x.ctx.Done():
				return
			case <-t.C:
				x.performHealthCheck()
			}
		}
	}()
}

// performHealthCheck marks the reporter unhealthy while its queue is above 90%.
func (x *PrometheusReporter) performHealthCheck() {
	usage := float64(len(x.metricsChan)) / float64(cap(x.metricsChan))
	since := time.Since(time.Unix(0, x.lastCheck.Load()))
	if usage > 0.9 {
		x.healthStatus.Store(1)
		log.Warn().Float64("chanUsage", usage).Dur("sinceLastCheck", since).Msg("health check failed")
	} else {
		x.healthStatus.Store(0)
	}
	x.lastCheck.Store(time.Now().UnixNano())
}

func (x *PrometheusReporter) merge(rc *Record) {
	key := x.getFullName(rc)
	if m, exist := x.metrics[key]; exist {
		if m != nil {
			m.merge(rc)
		}
		return
	}
	var (
		w   *metricWrapper
		err error
	)
	switch m := rc.Metrics().(type) {
	case Counter:
		w, err = newPromCounter(x.registry, rc, x.cfg.ExtLabels)
	case StopWatch, Gauge:
		w, err = newPromGauge(x.registry, rc, x.cfg.ExtLabels)
	default:
		log.Error().Str("metrictype", fmt.Sprintf("%T", m)).Msg("prometheus merge unknown")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("metric", rc.Metrics().Name()).Msg("prometheus register")
	}
	x.metrics[key] = w
}

// getFullName builds the series key from group, name, ext labels and sorted dimensions.
func (x *PrometheusReporter) getFullName(rc *Record) string {
	var sb strings.Builder
	sb.Grow(128)
	sb.WriteString(rc.Metrics().Group())
	sb.WriteString("*")
	sb.WriteString(rc.Metrics().Name())
	sb.WriteString("*")
	sb.WriteString(x.extLabels)

	keys := make([]string, 0, len(rc.Dimensions()))
	for k := range rc.Dimensions() {
		if _, ok := x.cfg.ExtLabels[k]; ok {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(":")
		sb.WriteString(rc.Dimensions()[k])
		sb.WriteString(",")
	}
	return sb.String()
}
