package carrier

import (
	"strconv"

	"github.com/hashicorp/go-metrics"
	"go.uber.org/zap"
)

var (
	MetricFramesIn          = []string{"carrier", "frames", "in", "count"}
	MetricFramesOut         = []string{"carrier", "frames", "out", "count"}
	MetricFramesDropped     = []string{"carrier", "frames", "dropped", "count"}
	MetricBytesIn           = []string{"carrier", "bytes", "in"}
	MetricBytesOut          = []string{"carrier", "bytes", "out"}
	MetricConnErrorCount    = []string{"carrier", "connection", "error", "count"}
	MetricFrontendAccepted  = []string{"carrier", "frontend", "accepted", "count"}
	MetricBackendUp         = []string{"carrier", "backend", "up"}
	MetricCorrelationsLive  = []string{"carrier", "correlations", "live"}
	MetricCorrelationExpiry = []string{"carrier", "correlations", "expired", "count"}
	MetricErrorReplies      = []string{"carrier", "error", "replies", "count"}
)

// TelemetryLabel names a label attached to metrics and log entries.
type TelemetryLabel string

var (
	LabelRole    TelemetryLabel = "role"
	LabelReason  TelemetryLabel = "reason"
	LabelOp      TelemetryLabel = "op"
	LabelService TelemetryLabel = "service"
)

// Drop reasons, used as LabelReason values.
const (
	ReasonUnroutable         = "unroutable"
	ReasonUnresolved         = "unresolved"
	ReasonBackendUnavailable = "backend_unavailable"
	ReasonFrontendGone       = "frontend_gone"
)

const (
	roleFrontend = "frontend"
	roleBackend  = "backend"
)

// M returns a metrics label.
func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

// L returns a zap field.
func (lab TelemetryLabel) L(val string) zap.Field {
	return zap.String(string(lab), val)
}

func serviceLabel(service uint16) metrics.Label {
	return LabelService.M(strconv.FormatUint(uint64(service), 10))
}

func (gw *Gateway) sink() metrics.MetricSink {
	if gw.MetricSink == nil {
		return &metrics.BlackholeSink{}
	}
	return gw.MetricSink
}

func (gw *Gateway) incr(key []string, val float32, labels ...metrics.Label) {
	gw.sink().IncrCounterWithLabels(key, val, append(labels, gw.MetricLabels...))
}

func (gw *Gateway) gauge(key []string, val float32, labels ...metrics.Label) {
	gw.sink().SetGaugeWithLabels(key, val, append(labels, gw.MetricLabels...))
}
