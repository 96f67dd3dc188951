package app

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/MrWong99/resound/internal/config"
	"github.com/MrWong99/resound/pkg/audio"
	"github.com/MrWong99/resound/pkg/audio/mixer"
	"github.com/MrWong99/resound/pkg/spatial"
)

// ErrSceneObjectExists is returned when adding an emitter or listener whose
// name is already in the scene.
var ErrSceneObjectExists = errors.New("app: scene object already exists")

// ErrSceneObjectNotFound is returned when a named emitter or listener is not
// in the scene.
var ErrSceneObjectNotFound = errors.New("app: scene object not found")

// Scene maps configured emitter and listener names onto the ids of a
// [mixer.System]. It owns the named objects it adds: removing one from the
// scene removes it from the system.
//
// All methods are safe for concurrent use.
type Scene struct {
	sys       *mixer.System
	sounds    spatial.SoundSource
	defaults  config.SpatialConfig
	queueSize int

	mu        sync.Mutex
	emitters  map[string]spatial.ID
	listeners map[string]spatial.ID
}

// NewScene returns an empty scene that creates objects on sys. Emitters take
// their sounds from src; stage and transmission fall back to defaults.
func NewScene(sys *mixer.System, src spatial.SoundSource, defaults config.SpatialConfig, queueSize int) *Scene {
	return &Scene{
		sys:       sys,
		sounds:    src,
		defaults:  defaults,
		queueSize: queueSize,
		emitters:  make(map[string]spatial.ID),
		listeners: make(map[string]spatial.ID),
	}
}

// Load adds every listener and emitter in cfg. It stops at the first error.
func (s *Scene) Load(cfg config.SceneConfig) error {
	for _, lc := range cfg.Listeners {
		if err := s.AddListener(lc); err != nil {
			return err
		}
	}
	for _, ec := range cfg.Emitters {
		if err := s.AddEmitter(ec); err != nil {
			return err
		}
	}
	return nil
}

// AddListener creates a listener from lc.
func (s *Scene) AddListener(lc config.ListenerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listeners[lc.Name]; ok {
		return fmt.Errorf("%w: listener %q", ErrSceneObjectExists, lc.Name)
	}
	id, _, err := s.sys.NewListener(
		spatial.WithListenerTransform(listenerTransform(lc)),
		spatial.WithQueueSize(s.queueSize),
	)
	if err != nil {
		return fmt.Errorf("app: add listener %q: %w", lc.Name, err)
	}
	s.listeners[lc.Name] = id
	slog.Debug("scene: listener added", "name", lc.Name, "id", id)
	return nil
}

// AddEmitter creates an emitter from ec and starts its sounds.
func (s *Scene) AddEmitter(ec config.EmitterConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emitters[ec.Name]; ok {
		return fmt.Errorf("%w: emitter %q", ErrSceneObjectExists, ec.Name)
	}
	opts, err := s.emitterOptions(ec)
	if err != nil {
		return fmt.Errorf("app: add emitter %q: %w", ec.Name, err)
	}
	id, e, err := s.sys.NewEmitter(opts...)
	if err != nil {
		return fmt.Errorf("app: add emitter %q: %w", ec.Name, err)
	}
	s.attachSounds(e, ec.Sounds)
	s.emitters[ec.Name] = id
	slog.Debug("scene: emitter added", "name", ec.Name, "id", id, "sounds", e.Sounds())
	return nil
}

// RemoveEmitter removes and closes the named emitter.
func (s *Scene) RemoveEmitter(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.emitters[name]
	if !ok {
		return fmt.Errorf("%w: emitter %q", ErrSceneObjectNotFound, name)
	}
	delete(s.emitters, name)
	return s.sys.RemoveEmitter(id)
}

// RemoveListener removes the named listener.
func (s *Scene) RemoveListener(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.listeners[name]
	if !ok {
		return fmt.Errorf("%w: listener %q", ErrSceneObjectNotFound, name)
	}
	delete(s.listeners, name)
	return s.sys.RemoveListener(id)
}

// EmitterID returns the system id of the named emitter.
func (s *Scene) EmitterID(name string) (spatial.ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.emitters[name]
	return id, ok
}

// ListenerID returns the system id of the named listener.
func (s *Scene) ListenerID(name string) (spatial.ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.listeners[name]
	return id, ok
}

// Emitters returns the emitter names in sorted order.
func (s *Scene) Emitters() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.emitters)
}

// Listeners returns the listener names in sorted order.
func (s *Scene) Listeners() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.listeners)
}

// Apply brings the scene in line with cfg using the changes computed by
// [config.Diff]. Moved objects keep their voices; changed sounds restart
// playback; changed acoustics recreate the emitter, since its effect stack
// is fixed at creation. Errors for single objects are joined and do not stop
// the rest of the update.
func (s *Scene) Apply(d config.ConfigDiff, cfg config.SceneConfig) error {
	var errs []error

	for _, ld := range d.ListenerChanges {
		var err error
		switch {
		case ld.Removed:
			err = s.RemoveListener(ld.Name)
		case ld.Added:
			err = s.AddListener(findListener(cfg, ld.Name))
		case ld.TransformChanged:
			err = s.moveListener(findListener(cfg, ld.Name))
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	for _, ed := range d.EmitterChanges {
		var err error
		switch {
		case ed.Removed:
			err = s.RemoveEmitter(ed.Name)
		case ed.Added:
			err = s.AddEmitter(findEmitter(cfg, ed.Name))
		case ed.AcousticsChanged:
			if err = s.RemoveEmitter(ed.Name); err == nil {
				err = s.AddEmitter(findEmitter(cfg, ed.Name))
			}
		default:
			err = s.updateEmitter(findEmitter(cfg, ed.Name), ed)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scene) moveListener(lc config.ListenerConfig) error {
	id, ok := s.ListenerID(lc.Name)
	if !ok {
		return fmt.Errorf("%w: listener %q", ErrSceneObjectNotFound, lc.Name)
	}
	l, ok := s.sys.Listener(id)
	if !ok {
		return fmt.Errorf("%w: listener %q", ErrSceneObjectNotFound, lc.Name)
	}
	l.SetTransform(listenerTransform(lc))
	return nil
}

func (s *Scene) updateEmitter(ec config.EmitterConfig, ed config.EmitterDiff) error {
	id, ok := s.EmitterID(ec.Name)
	if !ok {
		return fmt.Errorf("%w: emitter %q", ErrSceneObjectNotFound, ec.Name)
	}
	e, ok := s.sys.Emitter(id)
	if !ok {
		return fmt.Errorf("%w: emitter %q", ErrSceneObjectNotFound, ec.Name)
	}
	if ed.TransformChanged {
		e.SetTransform(spatial.NewTransform(vec(ec.Position)))
	}
	if ed.SoundsChanged {
		e.StopAll()
		s.attachSounds(e, ec.Sounds)
	}
	return nil
}

func (s *Scene) emitterOptions(ec config.EmitterConfig) ([]spatial.EmitterOption, error) {
	out := ec.Output
	if out == "" {
		out = s.defaults.Output
	}
	stage, err := spatial.ParseStage(out)
	if err != nil {
		return nil, err
	}
	opts := []spatial.EmitterOption{
		spatial.WithTransform(spatial.NewTransform(vec(ec.Position))),
		spatial.WithStage(stage),
	}
	bands := ec.Transmission
	if len(bands) == 0 {
		bands = s.defaults.Transmission
	}
	if len(bands) == spatial.Bands {
		opts = append(opts, spatial.WithTransmission([spatial.Bands]float32(bands)))
	}
	if ec.Directivity != nil {
		opts = append(opts, spatial.WithDirectivity(*ec.Directivity))
	}
	return opts, nil
}

func (s *Scene) attachSounds(e *spatial.Emitter, sounds []config.SoundConfig) {
	for _, sc := range sounds {
		// Modes were checked by config.Validate.
		mode, _ := audio.ParsePlaybackMode(sc.Mode)
		e.WithSound(sc.Sound, s.sounds, audio.Playback{
			Mode:  mode,
			Start: sc.Start,
			End:   sc.End,
			Gain:  sc.Gain,
		})
	}
}

func listenerTransform(lc config.ListenerConfig) spatial.Transform {
	if lc.LookAt != nil {
		return spatial.LookAt(vec(lc.Position), vec(*lc.LookAt))
	}
	return spatial.NewTransform(vec(lc.Position))
}

func vec(v config.Vec3) mgl32.Vec3 { return mgl32.Vec3(v) }

func findEmitter(cfg config.SceneConfig, name string) config.EmitterConfig {
	i := slices.IndexFunc(cfg.Emitters, func(e config.EmitterConfig) bool { return e.Name == name })
	if i < 0 {
		return config.EmitterConfig{Name: name}
	}
	return cfg.Emitters[i]
}

func findListener(cfg config.SceneConfig, name string) config.ListenerConfig {
	i := slices.IndexFunc(cfg.Listeners, func(l config.ListenerConfig) bool { return l.Name == name })
	if i < 0 {
		return config.ListenerConfig{Name: name}
	}
	return cfg.Listeners[i]
}

func sortedKeys(m map[string]spatial.ID) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
