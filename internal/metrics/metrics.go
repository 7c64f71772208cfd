// Package metrics exposes the counted, non-fatal statistics spec §7
// requires ("surfaced as counted statistics") as Prometheus collectors:
// packet drops by reason, frames lost, frames recovered via FEC, frames
// delivered, and total bytes streamed.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DropReason labels why a packet was discarded without raising an error.
type DropReason string

const (
	DropBadChecksum DropReason = "bad_checksum"
	DropBadMagic    DropReason = "bad_magic"
	DropStale       DropReason = "stale"
	DropUnknownType DropReason = "unknown_type"
)

// Registry wraps the collectors for one process. Callers that don't want
// metrics at all can simply pass a nil *Registry everywhere one is
// accepted — every method on a nil *Registry is a no-op.
type Registry struct {
	packetsDropped   *prometheus.CounterVec
	framesLost       prometheus.Counter
	framesRecovered  prometheus.Counter
	framesDelivered  prometheus.Counter
	bytesStreamed    prometheus.Counter
}

// New registers a fresh set of collectors against reg. Pass
// prometheus.NewRegistry() for an isolated registry (as in tests) or
// prometheus.DefaultRegisterer to expose via promhttp.Handler().
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		packetsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sanchez_packets_dropped_total",
			Help: "Packets discarded without raising an error, by reason.",
		}, []string{"reason"}),
		framesLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sanchez_frames_lost_total",
			Help: "Frames delivered as lost: given up on past max_frame_lag, or failing their frame CRC or inflate.",
		}),
		framesRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sanchez_frames_recovered_total",
			Help: "Frames completed via single-chunk FEC recovery.",
		}),
		framesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sanchez_frames_delivered_total",
			Help: "Frames delivered to the consumer sequence.",
		}),
		bytesStreamed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sanchez_bytes_streamed_total",
			Help: "Total wire bytes emitted by stream servers.",
		}),
	}
	reg.MustRegister(r.packetsDropped, r.framesLost, r.framesRecovered, r.framesDelivered, r.bytesStreamed)
	return r
}

func (r *Registry) DropPacket(reason DropReason) {
	if r == nil {
		return
	}
	r.packetsDropped.WithLabelValues(string(reason)).Inc()
}

func (r *Registry) FrameLost() {
	if r == nil {
		return
	}
	r.framesLost.Inc()
}

func (r *Registry) FrameRecovered() {
	if r == nil {
		return
	}
	r.framesRecovered.Inc()
}

func (r *Registry) FrameDelivered() {
	if r == nil {
		return
	}
	r.framesDelivered.Inc()
}

func (r *Registry) AddBytesStreamed(n int) {
	if r == nil {
		return
	}
	r.bytesStreamed.Add(float64(n))
}
