package carrier

import (
	"sync/atomic"
)

// StatsCollector is the interface required to collect byte statistics.
type StatsCollector interface {
	AddBytesWritten(int64)
	AddBytesRead(int64)
}

// Stats is a point in time snapshot of a Gateway.
type Stats struct {
	BytesRead         int64  `json:"bytes_read"`
	BytesWritten      int64  `json:"bytes_written"`
	FramesForwarded   uint64 `json:"frames_forwarded"`
	FramesReturned    uint64 `json:"frames_returned"`
	DroppedUnroutable uint64 `json:"dropped_unroutable"`
	DroppedUnresolved uint64 `json:"dropped_unresolved"`
	DroppedBackend    uint64 `json:"dropped_backend_unavailable"`
	DroppedFrontend   uint64 `json:"dropped_frontend_gone"`
	Expired           uint64 `json:"expired"`
	ErrorReplies      uint64 `json:"error_replies"`
	Frontends         int    `json:"frontends"`
	Backends          int    `json:"backends"`
	Pending           int    `json:"pending"`
}

type counters struct {
	bytesRead         int64
	bytesWritten      int64
	framesForwarded   uint64
	framesReturned    uint64
	droppedUnroutable uint64
	droppedUnresolved uint64
	droppedBackend    uint64
	droppedFrontend   uint64
	expired           uint64
	errorReplies      uint64
}

// AddBytesWritten adds n to the number of bytes written statistic.
func (gw *Gateway) AddBytesWritten(n int64) {
	atomic.AddInt64(&gw.stats.bytesWritten, n)
	gw.incr(MetricBytesOut, float32(n))
}

// BytesWritten returns the current number of bytes written.
func (gw *Gateway) BytesWritten() int64 {
	return atomic.LoadInt64(&gw.stats.bytesWritten)
}

// AddBytesRead adds n to the number of bytes read statistic.
func (gw *Gateway) AddBytesRead(n int64) {
	atomic.AddInt64(&gw.stats.bytesRead, n)
	gw.incr(MetricBytesIn, float32(n))
}

// BytesRead returns the current number of bytes read.
func (gw *Gateway) BytesRead() int64 {
	return atomic.LoadInt64(&gw.stats.bytesRead)
}

// dropped counts a frame dropped for reason.
func (gw *Gateway) dropped(reason string) {
	switch reason {
	case ReasonUnroutable:
		atomic.AddUint64(&gw.stats.droppedUnroutable, 1)
	case ReasonUnresolved:
		atomic.AddUint64(&gw.stats.droppedUnresolved, 1)
	case ReasonBackendUnavailable:
		atomic.AddUint64(&gw.stats.droppedBackend, 1)
	case ReasonFrontendGone:
		atomic.AddUint64(&gw.stats.droppedFrontend, 1)
	}
	gw.incr(MetricFramesDropped, 1, LabelReason.M(reason))
}

// Stats returns a snapshot of the Gateway counters.
func (gw *Gateway) Stats() Stats {
	gw.mu.Lock()
	frontends := len(gw.frontends)
	gw.mu.Unlock()
	return Stats{
		BytesRead:         gw.BytesRead(),
		BytesWritten:      gw.BytesWritten(),
		FramesForwarded:   atomic.LoadUint64(&gw.stats.framesForwarded),
		FramesReturned:    atomic.LoadUint64(&gw.stats.framesReturned),
		DroppedUnroutable: atomic.LoadUint64(&gw.stats.droppedUnroutable),
		DroppedUnresolved: atomic.LoadUint64(&gw.stats.droppedUnresolved),
		DroppedBackend:    atomic.LoadUint64(&gw.stats.droppedBackend),
		DroppedFrontend:   atomic.LoadUint64(&gw.stats.droppedFrontend),
		Expired:           atomic.LoadUint64(&gw.stats.expired),
		ErrorReplies:      atomic.LoadUint64(&gw.stats.errorReplies),
		Frontends:         frontends,
		Backends:          gw.registry.Len(),
		Pending:           gw.correlations.Len(),
	}
}
