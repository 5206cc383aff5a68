package metrics

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPrometheus(t *testing.T) *PrometheusReporter {
	cfg := DefaultPrometheusReporterConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.EnableHealthCheck = true
	cfg.ExtLabels = map[string]string{"app": "test"}
	x, err := NewPrometheusReporter(cfg)
	require.NoError(t, err)
	t.Cleanup(x.Stop)
	return x
}

func TestPrometheusReporterConfigValidate(t *testing.T) {
	cfg := DefaultPrometheusReporterConfig()
	require.NoError(t, cfg.Validate())

	cfg.UsePush = true
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidPrometheusConfig)
	cfg.PushAddr = "127.0.0.1:9091"
	assert.NoError(t, cfg.Validate())

	cfg.MetricPath = ""
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidPrometheusConfig)
}

func TestPrometheusReporterMerges(t *testing.T) {
	x := newTestPrometheus(t)

	c := _counters.get("prom_counter", GroupOncelink)
	x.Report(Record{metrics: c, value: 2, dimensions: Dimension{DimKind: "ack"}})
	x.Report(Record{metrics: c, value: 3, dimensions: Dimension{DimKind: "ack"}})
	g := _avgGauges.get("prom_avg", GroupOncelink)
	x.Report(Record{metrics: g, value: 2, cnt: 1})
	x.Report(Record{metrics: g, value: 4, cnt: 1})

	values := map[string]float64{}
	require.Eventually(t, func() bool {
		mfs, err := x.Gatherer().Gather()
		if err != nil {
			return false
		}
		for _, mf := range mfs {
			m := mf.GetMetric()[0]
			if m.GetCounter() != nil {
				values[mf.GetName()] = m.GetCounter().GetValue()
			} else {
				values[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
		return values["oncelink_prom_counter"] == 5 && values["oncelink_prom_avg"] == 3
	}, time.Second, 10*time.Millisecond)
}

func TestPrometheusReporterHTTP(t *testing.T) {
	x := newTestPrometheus(t)
	x.Report(Record{metrics: _counters.get("prom_http", GroupOncelink), value: 1})

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + x.Addr().String() + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK &&
			strings.Contains(string(body), `oncelink_prom_http{app="test"} 1`)
	}, time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + x.Addr().String() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
