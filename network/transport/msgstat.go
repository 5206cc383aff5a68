package transport

import (
	"sync"

	"github.com/linchenxuan/oncelink/metrics"
)

var _transportDims sync.Map

func init() {
	for _, kind := range []string{"tcp", "kcp", "unix", "pipe"} {
		RegisterTransportDim(kind)
	}
}

// RegisterTransportDim caches the metric dimension of a transport kind.
func RegisterTransportDim(kind string) {
	_transportDims.Store(kind, metrics.Dimension{metrics.DimTransport: kind})
}

func transportDim(kind string) metrics.Dimension {
	if v, ok := _transportDims.Load(kind); ok {
		return v.(metrics.Dimension)
	}
	dim := metrics.Dimension{metrics.DimTransport: kind}
	_transportDims.Store(kind, dim)
	return dim
}

func statSendFrame(kind string, size int) {
	dim := transportDim(kind)
	metrics.IncrCounterWithDimGroup(metrics.NameTransportSendFrameTotal, metrics.GroupOncelink, 1, dim)
	metrics.UpdateAvgGaugeWithDimGroup(metrics.NameTransportFrameSizeAvgBytes, metrics.GroupOncelink, metrics.Value(size), dim)
	metrics.UpdateMaxGaugeWithDimGroup(metrics.NameTransportFrameSizeMaxBytes, metrics.GroupOncelink, metrics.Value(size), dim)
}

func statRecvFrame(kind string) {
	metrics.IncrCounterWithDimGroup(metrics.NameTransportRecvFrameTotal, metrics.GroupOncelink, 1, transportDim(kind))
}

func statSendBusy(kind string) {
	metrics.IncrCounterWithDimGroup(metrics.NameTransportSendBusyTotal, metrics.GroupOncelink, 1, transportDim(kind))
}
