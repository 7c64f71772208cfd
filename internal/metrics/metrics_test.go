package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilRegistryIsNoOp(t *testing.T) {
	var r *Registry
	r.DropPacket(DropBadChecksum)
	r.FrameLost()
	r.FrameRecovered()
	r.FrameDelivered()
	r.AddBytesStreamed(128)
}

func TestCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.DropPacket(DropBadChecksum)
	r.DropPacket(DropBadChecksum)
	r.FrameLost()
	r.FrameRecovered()
	r.FrameDelivered()
	r.AddBytesStreamed(42)

	mf, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := map[string]float64{}
	for _, f := range mf {
		for _, m := range f.GetMetric() {
			var v float64
			if c := m.GetCounter(); c != nil {
				v = c.GetValue()
			}
			found[f.GetName()] = found[f.GetName()] + v
		}
	}
	if found["sanchez_packets_dropped_total"] != 2 {
		t.Errorf("packets_dropped = %v, want 2", found["sanchez_packets_dropped_total"])
	}
	if found["sanchez_frames_lost_total"] != 1 {
		t.Errorf("frames_lost = %v, want 1", found["sanchez_frames_lost_total"])
	}
	if found["sanchez_bytes_streamed_total"] != 42 {
		t.Errorf("bytes_streamed = %v, want 42", found["sanchez_bytes_streamed_total"])
	}
}
