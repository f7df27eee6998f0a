package metrics

import (
	"math"
	"sync/atomic"
)

// frameCadenceEvents fire once per frame, several times a second.
var frameCadenceEvents = []string{
	EventFrameSent,
	EventFrameDropped,
	EventDetectionReceived,
	EventCaptureSkipped,
}

// SamplingObserver forwards roughly rate*N of the frame-cadence
// events and every other event untouched, so rare signals like a
// breaker opening are never thinned away along with per-frame noise.
type SamplingObserver struct {
	inner       Observer
	sampleEvery uint64
	counters    map[string]*uint64
}

// NewSamplingObserver wraps inner with sampling on the named events.
// With no events it samples the frame-cadence set. Rate 1 forwards
// everything, rate 0 suppresses the sampled events entirely.
func NewSamplingObserver(inner Observer, rate float64, events ...string) *SamplingObserver {
	if rate > 1 {
		rate = 1
	}
	if rate < 0 {
		rate = 0
	}
	var every uint64
	switch {
	case rate == 0:
		every = 0
	case rate == 1:
		every = 1
	default:
		every = uint64(math.Round(1.0 / rate))
		if every == 0 {
			every = 1
		}
	}
	if len(events) == 0 {
		events = frameCadenceEvents
	}
	counters := make(map[string]*uint64, len(events))
	for _, name := range events {
		counters[name] = new(uint64)
	}
	return &SamplingObserver{inner: inner, sampleEvery: every, counters: counters}
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	counter, sampled := s.counters[ev.Name]
	if !sampled || s.sampleEvery == 1 {
		s.inner.RecordEvent(ev)
		return
	}
	if s.sampleEvery == 0 {
		return
	}
	n := atomic.AddUint64(counter, 1)
	if n%s.sampleEvery == 0 {
		s.inner.RecordEvent(ev)
	}
}

var _ Observer = (*SamplingObserver)(nil)
