// Package mixer schedules spatialized playback into a sink.
//
// A [System] owns the emitter and listener registries and the spatial
// processor. Each call to [System.Update] checks the sink's backlog and, when
// it has fallen below the low-water mark, pulls one block from every
// emitter, spatializes it against every listener, sums the results into a
// [Bus] and enqueues the bus as one block. Update never sleeps; drive it
// from a game loop or with [System.Run].
//
// Typical usage:
//
//	sys, err := mixer.New(proc, out, mixer.WithWorkers(4))
//	id, em, err := sys.NewEmitter(spatial.WithTransform(t))
//	em.WithSound("rain", lib, audio.Playback{Mode: audio.Loop})
//	lid, listener, err := sys.NewListener()
//	go sys.Run(ctx, 10*time.Millisecond)
package mixer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/resound/pkg/audio"
	"github.com/MrWong99/resound/pkg/audio/sink"
	"github.com/MrWong99/resound/pkg/spatial"
)

// DefaultFramesToBuffer is the default low-water mark: a new block is mixed
// only while fewer than this many blocks wait in the sink.
const DefaultFramesToBuffer = 2

var (
	// ErrFrameFormat is returned when a frame does not fit the bus.
	ErrFrameFormat = errors.New("mixer: frame does not match bus format")

	// ErrClosed is returned by operations on a closed system.
	ErrClosed = errors.New("mixer: system closed")

	// ErrNotFound is returned for unknown emitter or listener ids.
	ErrNotFound = errors.New("mixer: id not found")
)

// Guard gates spatialization for one emitter. A guard that declines to run
// fn reports the emitter as rejected for that pairing. A circuit breaker
// with an Execute method satisfies it.
type Guard interface {
	Execute(fn func() error) error
}

// TickResult classifies the outcome of one [System.Update].
type TickResult int

const (
	// TickProduced means a block was enqueued to the sink.
	TickProduced TickResult = iota

	// TickSkipped means the sink already held enough blocks.
	TickSkipped

	// TickFailed means the tick was aborted or the sink refused the block.
	TickFailed
)

// String returns the lower-case name of the result.
func (r TickResult) String() string {
	switch r {
	case TickProduced:
		return "produced"
	case TickSkipped:
		return "skipped"
	case TickFailed:
		return "failed"
	default:
		return fmt.Sprintf("TickResult(%d)", int(r))
	}
}

// TickReport describes one [System.Update].
type TickReport struct {
	Result TickResult

	// Duration covers the whole tick; SpatializeDuration only the listener
	// fan-out.
	Duration           time.Duration
	SpatializeDuration time.Duration

	Emitters  int
	Listeners int

	// FramesPulled counts frames taken from emitters, FramesMixed the
	// spatialized frames summed into the bus, FramesDropped the pairings
	// that failed, and FramesRejected the pairings a [Guard] declined.
	FramesPulled   int
	FramesMixed    int
	FramesDropped  int
	FramesRejected int

	// Pending is the sink backlog seen at the start of the tick.
	Pending int

	// Err is set when Result is TickFailed.
	Err error
}

// Stats is a cumulative snapshot of a [System].
type Stats struct {
	Ticks          uint64
	Produced       uint64
	Skipped        uint64
	Failed         uint64
	FramesMixed    uint64
	FramesDropped  uint64
	FramesRejected uint64
	Emitters       int
	Listeners      int
}

// Option configures a [System].
type Option func(*System)

// WithFramesToBuffer sets the low-water mark. Defaults to
// [DefaultFramesToBuffer].
func WithFramesToBuffer(n int) Option {
	return func(s *System) {
		if n > 0 {
			s.framesToBuffer = n
		}
	}
}

// WithWorkers sets how many listeners are spatialized in parallel. With one
// worker, the default, Update runs entirely on the calling goroutine.
func WithWorkers(n int) Option {
	return func(s *System) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithGuard installs a factory for per-emitter guards, called once for each
// emitter added.
func WithGuard(newGuard func(id spatial.ID) Guard) Option {
	return func(s *System) {
		s.newGuard = newGuard
	}
}

// WithReporter registers fn to receive every [TickReport]. fn runs on the
// goroutine calling Update and must not block.
func WithReporter(fn func(ctx context.Context, r TickReport)) Option {
	return func(s *System) {
		s.report = fn
	}
}

type emitterEntry struct {
	id      spatial.ID
	emitter *spatial.Emitter
	guard   Guard
}

type listenerEntry struct {
	id       spatial.ID
	listener *spatial.Listener
}

// pull is one emitter's contribution to a tick.
type pull struct {
	emitterEntry
	frames []audio.SoundFrame
}

type pairCounts struct {
	dropped  int
	rejected int
}

// System mixes every emitter as heard by every listener into one sink.
//
// All exported methods are safe for concurrent use. Update calls are
// serialised.
type System struct {
	proc           spatial.Processor
	out            sink.Sink
	conv           *audio.FormatConverter
	settings       spatial.Settings
	framesToBuffer int
	workers        int
	newGuard       func(spatial.ID) Guard
	report         func(context.Context, TickReport)

	mu        sync.RWMutex
	nextID    spatial.ID
	emitters  map[spatial.ID]*emitterEntry
	listeners map[spatial.ID]*spatial.Listener
	closed    bool

	tick sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

// New creates a system that spatializes with proc and plays into out. The
// system takes ownership of both and closes them in [System.Close].
func New(proc spatial.Processor, out sink.Sink, opts ...Option) (*System, error) {
	settings := proc.Settings()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if err := out.Format().Validate(); err != nil {
		return nil, fmt.Errorf("mixer: sink: %w", err)
	}
	s := &System{
		proc:           proc,
		out:            out,
		conv:           &audio.FormatConverter{Target: out.Format()},
		settings:       settings,
		framesToBuffer: DefaultFramesToBuffer,
		workers:        1,
		emitters:       make(map[spatial.ID]*emitterEntry),
		listeners:      make(map[spatial.ID]*spatial.Listener),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Processor returns the processor emitters must be created against.
func (s *System) Processor() spatial.Processor { return s.proc }

// Sink returns the playback sink.
func (s *System) Sink() sink.Sink { return s.out }

// AddEmitter registers e and returns its id. The system closes e when it is
// removed or the system closes.
func (s *System) AddEmitter(e *spatial.Emitter) (spatial.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.nextID++
	id := s.nextID
	entry := &emitterEntry{id: id, emitter: e}
	if s.newGuard != nil {
		entry.guard = s.newGuard(id)
	}
	s.emitters[id] = entry
	return id, nil
}

// NewEmitter creates an emitter against the system's processor and
// registers it.
func (s *System) NewEmitter(opts ...spatial.EmitterOption) (spatial.ID, *spatial.Emitter, error) {
	e, err := spatial.NewEmitter(s.proc, opts...)
	if err != nil {
		return 0, nil, err
	}
	id, err := s.AddEmitter(e)
	if err != nil {
		return 0, nil, errors.Join(err, e.Close())
	}
	return id, e, nil
}

// RemoveEmitter unregisters and closes the emitter with id.
func (s *System) RemoveEmitter(id spatial.ID) error {
	s.mu.Lock()
	entry, ok := s.emitters[id]
	delete(s.emitters, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: emitter %d", ErrNotFound, id)
	}
	return entry.emitter.Close()
}

// Emitter returns the emitter registered under id.
func (s *System) Emitter(id spatial.ID) (*spatial.Emitter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.emitters[id]
	if !ok {
		return nil, false
	}
	return entry.emitter, true
}

// AddListener registers l and returns its id.
func (s *System) AddListener(l *spatial.Listener) (spatial.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.nextID++
	s.listeners[s.nextID] = l
	return s.nextID, nil
}

// NewListener creates a listener sized to the engine block and registers it.
func (s *System) NewListener(opts ...spatial.ListenerOption) (spatial.ID, *spatial.Listener, error) {
	l := spatial.NewListener(s.settings, opts...)
	id, err := s.AddListener(l)
	if err != nil {
		return 0, nil, err
	}
	return id, l, nil
}

// RemoveListener unregisters the listener with id.
func (s *System) RemoveListener(id spatial.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listeners[id]; !ok {
		return fmt.Errorf("%w: listener %d", ErrNotFound, id)
	}
	delete(s.listeners, id)
	return nil
}

// Listener returns the listener registered under id.
func (s *System) Listener(id spatial.ID) (*spatial.Listener, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listeners[id]
	return l, ok
}

// Stats returns cumulative counters and the current registry sizes.
func (s *System) Stats() Stats {
	s.statsMu.Lock()
	st := s.stats
	s.statsMu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	st.Emitters = len(s.emitters)
	st.Listeners = len(s.listeners)
	return st
}

// snapshot returns the registries ordered by id so that the mix is summed
// in a stable order.
func (s *System) snapshot() ([]emitterEntry, []listenerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, nil, ErrClosed
	}
	ems := make([]emitterEntry, 0, len(s.emitters))
	for _, e := range s.emitters {
		ems = append(ems, *e)
	}
	ls := make([]listenerEntry, 0, len(s.listeners))
	for id, l := range s.listeners {
		ls = append(ls, listenerEntry{id: id, listener: l})
	}
	slices.SortFunc(ems, func(a, b emitterEntry) int { return cmp.Compare(a.id, b.id) })
	slices.SortFunc(ls, func(a, b listenerEntry) int { return cmp.Compare(a.id, b.id) })
	return ems, ls, nil
}

// Update runs one scheduling pass. When the sink holds FramesToBuffer or
// more blocks it does nothing and reports [TickSkipped]. Otherwise every
// emitter is advanced exactly once, its frames are spatialized against
// every listener and the sum is enqueued as one block. Failed pairings are
// dropped and counted; only a cancelled context or a sink error fails the
// tick.
func (s *System) Update(ctx context.Context) (TickReport, error) {
	s.tick.Lock()
	defer s.tick.Unlock()

	start := time.Now()
	var rep TickReport
	err := s.update(ctx, &rep)
	if err != nil {
		rep.Result = TickFailed
		rep.Err = err
	}
	rep.Duration = time.Since(start)
	s.record(rep)
	if s.report != nil {
		s.report(ctx, rep)
	}
	return rep, err
}

func (s *System) update(ctx context.Context, rep *TickReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	emitters, listeners, err := s.snapshot()
	if err != nil {
		return err
	}
	rep.Emitters = len(emitters)
	rep.Listeners = len(listeners)

	rep.Pending = s.out.Pending()
	if rep.Pending >= s.framesToBuffer {
		rep.Result = TickSkipped
		return nil
	}

	pulls := make([]pull, 0, len(emitters))
	for _, e := range emitters {
		frames := e.emitter.Frames()
		if len(frames) == 0 {
			continue
		}
		rep.FramesPulled += len(frames)
		pulls = append(pulls, pull{emitterEntry: e, frames: frames})
	}

	spatStart := time.Now()
	counts := make([]pairCounts, len(listeners))
	if len(pulls) > 0 {
		if err := s.fanOut(ctx, listeners, pulls, counts); err != nil {
			for _, l := range listeners {
				l.listener.Drain()
			}
			return err
		}
	}
	rep.SpatializeDuration = time.Since(spatStart)

	bus := NewBus(s.settings.SampleRate, s.settings.BlockSize)
	for i, l := range listeners {
		rep.FramesDropped += counts[i].dropped
		rep.FramesRejected += counts[i].rejected
		for _, f := range l.listener.Drain() {
			if err := bus.Add(f); err != nil {
				rep.FramesDropped++
				slog.Debug("mixer: frame dropped", "listener", l.id, "error", err)
				continue
			}
			rep.FramesMixed++
		}
	}

	if err := s.out.Enqueue(bus.Render(s.conv)); err != nil {
		return fmt.Errorf("mixer: enqueue: %w", err)
	}
	rep.Result = TickProduced
	return nil
}

// fanOut spatializes every pull for every listener. Each listener is
// handled by one goroutine at most, since it owns its scratch buffers.
func (s *System) fanOut(ctx context.Context, listeners []listenerEntry, pulls []pull, counts []pairCounts) error {
	if s.workers <= 1 {
		for i, l := range listeners {
			if err := ctx.Err(); err != nil {
				return err
			}
			counts[i] = s.spatialize(l, pulls)
		}
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, l := range listeners {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			counts[i] = s.spatialize(l, pulls)
			return nil
		})
	}
	return g.Wait()
}

// spatialize renders every pulled frame for l and queues the results on it.
func (s *System) spatialize(l listenerEntry, pulls []pull) pairCounts {
	var c pairCounts
	for _, p := range pulls {
		for _, f := range p.frames {
			var (
				out    audio.SoundFrame
				spErr  error
				called bool
			)
			run := func() error {
				called = true
				out, spErr = l.listener.ApplyConvolutions(f, p.emitter, s.proc)
				if errors.Is(spErr, spatial.ErrCoincident) {
					return nil
				}
				return spErr
			}
			if p.guard != nil {
				_ = p.guard.Execute(run)
			} else {
				_ = run()
			}

			switch {
			case !called:
				c.rejected++
			case spErr != nil:
				c.dropped++
				slog.Debug("mixer: spatialization failed",
					"listener", l.id, "emitter", p.id, "error", spErr)
			case !l.listener.Push(out):
				c.dropped++
				slog.Debug("mixer: listener queue full", "listener", l.id, "emitter", p.id)
			}
		}
	}
	return c
}

func (s *System) record(rep TickReport) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.Ticks++
	switch rep.Result {
	case TickProduced:
		s.stats.Produced++
	case TickSkipped:
		s.stats.Skipped++
	case TickFailed:
		s.stats.Failed++
	}
	s.stats.FramesMixed += uint64(rep.FramesMixed)
	s.stats.FramesDropped += uint64(rep.FramesDropped)
	s.stats.FramesRejected += uint64(rep.FramesRejected)
}

// Run calls Update every interval until ctx is done or the system closes.
// Sink errors are logged and the loop continues.
func (s *System) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, err := s.Update(ctx)
			switch {
			case err == nil:
			case errors.Is(err, ErrClosed):
				return err
			case ctx.Err() != nil:
				return nil
			default:
				slog.Warn("mixer: tick failed", "error", err)
			}
		}
	}
}

// Close closes every emitter, the processor and the sink. Subsequent calls
// return nil.
func (s *System) Close() error {
	s.tick.Lock()
	defer s.tick.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	emitters := s.emitters
	s.emitters = make(map[spatial.ID]*emitterEntry)
	clear(s.listeners)
	s.mu.Unlock()

	var errs []error
	for id, e := range emitters {
		if err := e.emitter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("emitter %d: %w", id, err))
		}
	}
	if err := s.proc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("processor: %w", err))
	}
	if err := s.out.Close(); err != nil {
		errs = append(errs, fmt.Errorf("sink: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("mixer: close: %w", errors.Join(errs...))
	}
	return nil
}
