package config

import (
	"slices"
	"sort"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; engine, output
// and spatial settings require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	EmittersChanged bool          // true if any emitter was added, removed or modified
	EmitterChanges  []EmitterDiff // per-emitter diffs, sorted by name

	ListenersChanged bool
	ListenerChanges  []ListenerDiff // per-listener diffs, sorted by name

	// RestartRequired lists the top-level sections whose changes were
	// ignored.
	RestartRequired []string
}

// Empty reports whether the diff carries nothing to apply.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.EmittersChanged && !d.ListenersChanged
}

// EmitterDiff describes what changed for a single emitter between two configs.
type EmitterDiff struct {
	Name             string
	TransformChanged bool
	SoundsChanged    bool
	AcousticsChanged bool // transmission, directivity or output stage
	Added            bool
	Removed          bool
}

// ListenerDiff describes what changed for a single listener.
type ListenerDiff struct {
	Name             string
	TransformChanged bool
	Added            bool
	Removed          bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.EmitterChanges = diffEmitters(old.Scene.Emitters, new.Scene.Emitters)
	d.EmittersChanged = len(d.EmitterChanges) > 0
	d.ListenerChanges = diffListeners(old.Scene.Listeners, new.Scene.Listeners)
	d.ListenersChanged = len(d.ListenerChanges) > 0

	if old.Engine != new.Engine {
		d.RestartRequired = append(d.RestartRequired, "engine")
	}
	if !equalOutput(old.Output, new.Output) {
		d.RestartRequired = append(d.RestartRequired, "output")
	}
	if !equalSpatial(old.Spatial, new.Spatial) {
		d.RestartRequired = append(d.RestartRequired, "spatial")
	}
	if old.Assets.Dir != new.Assets.Dir || !slices.Equal(old.Assets.Sounds, new.Assets.Sounds) {
		d.RestartRequired = append(d.RestartRequired, "assets")
	}
	return d
}

func diffEmitters(old, new []EmitterConfig) []EmitterDiff {
	oldByName := make(map[string]*EmitterConfig, len(old))
	for i := range old {
		oldByName[old[i].Name] = &old[i]
	}
	newByName := make(map[string]*EmitterConfig, len(new))
	for i := range new {
		newByName[new[i].Name] = &new[i]
	}

	var out []EmitterDiff
	// Detect modified and removed emitters.
	for name, o := range oldByName {
		n, exists := newByName[name]
		if !exists {
			out = append(out, EmitterDiff{Name: name, Removed: true})
			continue
		}
		ed := EmitterDiff{
			Name:             name,
			TransformChanged: o.Position != n.Position,
			SoundsChanged:    !slices.Equal(o.Sounds, n.Sounds),
			AcousticsChanged: o.Output != n.Output ||
				!slices.Equal(o.Transmission, n.Transmission) ||
				!equalPtr(o.Directivity, n.Directivity),
		}
		if ed.TransformChanged || ed.SoundsChanged || ed.AcousticsChanged {
			out = append(out, ed)
		}
	}
	// Detect added emitters.
	for name := range newByName {
		if _, exists := oldByName[name]; !exists {
			out = append(out, EmitterDiff{Name: name, Added: true})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func diffListeners(old, new []ListenerConfig) []ListenerDiff {
	oldByName := make(map[string]*ListenerConfig, len(old))
	for i := range old {
		oldByName[old[i].Name] = &old[i]
	}
	newByName := make(map[string]*ListenerConfig, len(new))
	for i := range new {
		newByName[new[i].Name] = &new[i]
	}

	var out []ListenerDiff
	for name, o := range oldByName {
		n, exists := newByName[name]
		if !exists {
			out = append(out, ListenerDiff{Name: name, Removed: true})
			continue
		}
		if o.Position != n.Position || !equalPtr(o.LookAt, n.LookAt) {
			out = append(out, ListenerDiff{Name: name, TransformChanged: true})
		}
	}
	for name := range newByName {
		if _, exists := oldByName[name]; !exists {
			out = append(out, ListenerDiff{Name: name, Added: true})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalOutput(a, b OutputConfig) bool {
	return slices.Equal(a.Backends, b.Backends) &&
		a.SampleRate == b.SampleRate &&
		a.Channels == b.Channels &&
		a.WAVPath == b.WAVPath &&
		a.Buffer == b.Buffer &&
		a.Unpaced == b.Unpaced &&
		a.Breaker == b.Breaker
}

func equalSpatial(a, b SpatialConfig) bool {
	return a.Processor == b.Processor &&
		a.Output == b.Output &&
		slices.Equal(a.Transmission, b.Transmission) &&
		slices.Equal(a.AirAbsorption, b.AirAbsorption) &&
		a.HeadRadius == b.HeadRadius &&
		a.Breaker == b.Breaker
}
