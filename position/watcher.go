// Package position turns a device location sensor into a cancellable stream
// of samples with per-sample acquisition timeouts and user-displayable
// failure reasons.
package position

import (
	"sync"
	"time"
)

// Reason identifies why a position could not be acquired.
type Reason string

const (
	ReasonDenied      Reason = "denied"
	ReasonUnavailable Reason = "unavailable"
	ReasonTimeout     Reason = "timeout"
	ReasonUnsupported Reason = "unsupported"
)

// Terminal reports whether the failure ends the watch. Timeouts and
// transient unavailability keep the stream alive; denial and an unsupported
// sensor do not resolve on their own.
func (r Reason) Terminal() bool {
	return r == ReasonDenied || r == ReasonUnsupported
}

// Sample is one device position fix.
type Sample struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Failure is a sensor failure carrying its displayable reason.
type Failure struct {
	Reason Reason `json:"reason"`
}

func (f Failure) Error() string {
	return "position sensor: " + string(f.Reason)
}

// WatchOptions mirror the device sensor knobs. MaxAge zero means cached
// fixes are never accepted.
type WatchOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaxAge       time.Duration
}

// Stream is a live sensor subscription. Sources never close the channels;
// the stream ends via Cancel or a terminal failure value.
type Stream interface {
	Samples() <-chan Sample
	Failures() <-chan Failure
	Cancel()
}

// Source is the device location sensor. Watch returns an error only when the
// host environment cannot provide positions at all.
type Source interface {
	Watch(opts WatchOptions) (Stream, error)
}

// Watcher runs a continuous position watch from construction until a
// terminal failure or Cancel. Each sample resets the acquisition timer; a
// timer expiry emits a timeout failure without restarting the underlying
// stream.
type Watcher struct {
	updates  chan Sample
	failures chan Failure

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewWatcher starts watching immediately. An unsupported source surfaces as
// a terminal failure on Failures rather than a constructor error, so the
// caller handles every failure mode in one place.
func NewWatcher(src Source, opts WatchOptions) *Watcher {
	w := &Watcher{
		updates:  make(chan Sample),
		failures: make(chan Failure),
		done:     make(chan struct{}),
	}

	stream, err := src.Watch(opts)
	w.wg.Add(1)
	if err != nil {
		go func() {
			defer w.wg.Done()
			w.emitFailure(Failure{Reason: ReasonUnsupported})
		}()
		return w
	}

	go w.run(stream, opts.Timeout)
	return w
}

// Updates delivers successful samples.
func (w *Watcher) Updates() <-chan Sample {
	return w.updates
}

// Failures delivers failures, terminal and transient alike.
func (w *Watcher) Failures() <-chan Failure {
	return w.failures
}

// Cancel releases the sensor and waits for the watch to wind down. After it
// returns nothing more is emitted. Repeated calls are no-ops.
func (w *Watcher) Cancel() {
	w.once.Do(func() { close(w.done) })
	w.wg.Wait()
}

func (w *Watcher) run(stream Stream, timeout time.Duration) {
	defer w.wg.Done()
	defer stream.Cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-w.done:
			return

		case s, ok := <-stream.Samples():
			if !ok {
				return
			}
			if !w.emitSample(s) {
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(timeout)

		case f, ok := <-stream.Failures():
			if !ok {
				return
			}
			if !w.emitFailure(f) {
				return
			}
			if f.Reason.Terminal() {
				return
			}

		case <-timer.C:
			if !w.emitFailure(Failure{Reason: ReasonTimeout}) {
				return
			}
			timer.Reset(timeout)
		}
	}
}

func (w *Watcher) emitSample(s Sample) bool {
	select {
	case w.updates <- s:
		return true
	case <-w.done:
		return false
	}
}

func (w *Watcher) emitFailure(f Failure) bool {
	select {
	case w.failures <- f:
		return true
	case <-w.done:
		return false
	}
}
