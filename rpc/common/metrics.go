package common

import (
	"fmt"
	"github.com/VictoriaMetrics/metrics"
	"io"
	"time"
)

// --------------------------------------------------------------------------
// Protocol Metrics
// --------------------------------------------------------------------------

// metricsSet holds every portrpc metric so the cli can expose them without
// mixing in unrelated process metrics
var metricsSet = metrics.NewSet()

var (
	portsOpen         = metricsSet.NewCounter("portrpc_ports_open")
	protocolErrors    = metricsSet.NewCounter("portrpc_protocol_errors_total")
	procedureDuration = metricsSet.NewHistogram("portrpc_procedure_duration_seconds")
)

// CountSent records an outbound protocol message of type t
func CountSent(t MessageType) {
	metricsSet.GetOrCreateCounter(fmt.Sprintf(`portrpc_messages_sent_total{type=%q}`, t.String())).Inc()
}

// CountReceived records an inbound protocol message of type t
func CountReceived(t MessageType) {
	metricsSet.GetOrCreateCounter(fmt.Sprintf(`portrpc_messages_received_total{type=%q}`, t.String())).Inc()
}

// CountProtocolError records a connection aborted because of undecodable input
func CountProtocolError() {
	protocolErrors.Inc()
}

// PortOpened and PortClosed track the number of open server ports
func PortOpened() { portsOpen.Inc() }
func PortClosed() { portsOpen.Dec() }

// ObserveProcedure records how long a procedure invocation took until its result was available
func ObserveProcedure(start time.Time) {
	procedureDuration.UpdateDuration(start)
}

// WriteMetrics writes all portrpc metrics in Prometheus text format
func WriteMetrics(w io.Writer) {
	metricsSet.WritePrometheus(w)
}
