package spatial

import (
	"errors"
	"fmt"
	"sync"
)

// EffectStack holds the effect handles one emitter needs for a pass through
// the pipeline. Handles are created once against a [Processor] and released
// exactly once by [EffectStack.Close].
type EffectStack struct {
	Encoder Encoder
	Direct  DirectEffect
	Output  Decoder
	Stage   Stage

	closeOnce sync.Once
	closeErr  error
}

// NewEffectStack creates the encoder, the direct effect and the decoder for
// stage. If any creation fails, the handles created so far are closed and
// the joined error is returned.
func NewEffectStack(p Processor, stage Stage) (*EffectStack, error) {
	s := &EffectStack{Stage: stage}

	var err error
	if s.Encoder, err = p.NewEncoder(); err != nil {
		return nil, fmt.Errorf("spatial: create encoder: %w", err)
	}
	if s.Direct, err = p.NewDirectEffect(); err != nil {
		return nil, errors.Join(fmt.Errorf("spatial: create direct effect: %w", err), s.Close())
	}
	switch stage {
	case StagePanning:
		s.Output, err = p.NewPanner()
	default:
		s.Output, err = p.NewBinaural()
	}
	if err != nil {
		return nil, errors.Join(fmt.Errorf("spatial: create %s decoder: %w", stage, err), s.Close())
	}
	return s, nil
}

// Close releases every handle in the stack. Only the first call releases;
// later calls return the first call's result.
func (s *EffectStack) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.Output != nil {
			errs = append(errs, s.Output.Close())
		}
		if s.Direct != nil {
			errs = append(errs, s.Direct.Close())
		}
		if s.Encoder != nil {
			errs = append(errs, s.Encoder.Close())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
