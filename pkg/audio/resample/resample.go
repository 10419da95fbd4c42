// Package resample converts decoded frames of arbitrary sample format,
// channel layout and rate into mono float32 samples at
// [audio.TargetSampleRate].
//
// A [Normalizer] keeps at most one conversion [Context], keyed by the source
// format, layout and rate. The context is rebuilt only when that key changes
// or after a conversion failure. Mono 16-bit integer and 32-bit float frames
// bypass the context entirely and are converted directly, with strided
// decimation when their rate differs from the target.
package resample

import (
	"fmt"
	"log/slog"

	"github.com/gaetschwartz/purr/pkg/audio"
	"github.com/gaetschwartz/purr/pkg/types"
)

// Key identifies the source side of a conversion context.
type Key struct {
	Format audio.SampleFormat
	Layout audio.ChannelLayout
	Rate   int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%dch/%dHz", k.Format, k.Layout.Channels(), k.Rate)
}

// Phase is the state of a [Normalizer]'s conversion context.
type Phase int

const (
	// Uninitialized means no context exists; the next general-path frame
	// builds one.
	Uninitialized Phase = iota

	// Active means a context for the current key exists.
	Active
)

func (p Phase) String() string {
	if p == Active {
		return "active"
	}
	return "uninitialized"
}

// Context converts frames matching the key it was built for into mono
// float32 samples at the target rate. A Context may keep state across frames.
type Context interface {
	Convert(f audio.Frame) ([]float32, error)
}

// Factory builds a [Context] for key.
type Factory func(key Key) (Context, error)

// Option configures a [Normalizer].
type Option func(*Normalizer)

// WithFactory replaces the default [Linear] context factory.
func WithFactory(f Factory) Option {
	return func(n *Normalizer) { n.factory = f }
}

// WithFastPath enables or disables the direct conversion of mono S16 and F32
// frames. When disabled every frame goes through the conversion context.
// Enabled by default.
func WithFastPath(enabled bool) Option {
	return func(n *Normalizer) { n.fastPath = enabled }
}

// WithRebuildHook registers fn to be called after each context construction.
func WithRebuildHook(fn func(Key)) Option {
	return func(n *Normalizer) { n.onRebuild = fn }
}

// WithDropHook registers fn to be called whenever a frame's output is dropped
// because of a conversion failure. The error is a Resample *types.Error.
func WithDropHook(fn func(error)) Option {
	return func(n *Normalizer) { n.onDrop = fn }
}

// Normalizer turns a sequence of decoded frames into normalised samples.
// It is not safe for concurrent use; one Normalizer serves one stream.
type Normalizer struct {
	factory   Factory
	fastPath  bool
	onRebuild func(Key)
	onDrop    func(error)

	phase Phase
	key   Key
	ctx   Context

	rebuilds int
	dropped  int
}

// NewNormalizer returns a Normalizer in the Uninitialized phase.
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{
		factory:  Linear,
		fastPath: true,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Process converts f and returns its normalised samples. A frame that fails
// to convert yields nil; the failure is logged, the context is discarded, and
// the next frame starts from the Uninitialized phase.
func (n *Normalizer) Process(f audio.Frame) []float32 {
	if n.fastPath && onFastPath(f) {
		out, err := directConvert(f)
		if err != nil {
			n.drop(Key{Format: f.Format, Layout: f.EffectiveLayout(), Rate: f.SampleRate}, err)
			return nil
		}
		return out
	}

	key := Key{Format: f.Format, Layout: f.EffectiveLayout(), Rate: f.SampleRate}
	if n.phase == Uninitialized || n.key != key {
		n.reset()
		ctx, err := n.factory(key)
		if err != nil {
			n.drop(key, fmt.Errorf("build context: %w", err))
			return nil
		}
		n.ctx, n.key, n.phase = ctx, key, Active
		n.rebuilds++
		slog.Debug("resampler context built", "key", key.String(), "rebuilds", n.rebuilds)
		if n.onRebuild != nil {
			n.onRebuild(key)
		}
	}

	out, err := n.ctx.Convert(f)
	if err != nil {
		n.reset()
		n.drop(key, err)
		return nil
	}
	return out
}

// Phase returns the current phase and, when Active, the context key.
func (n *Normalizer) Phase() (Phase, Key) {
	return n.phase, n.key
}

// Rebuilds returns the number of contexts built so far.
func (n *Normalizer) Rebuilds() int { return n.rebuilds }

// Dropped returns the number of frames whose output was dropped.
func (n *Normalizer) Dropped() int { return n.dropped }

func (n *Normalizer) reset() {
	n.ctx = nil
	n.key = Key{}
	n.phase = Uninitialized
}

func (n *Normalizer) drop(key Key, cause error) {
	n.dropped++
	err := types.Errorf(types.KindResample, "resample.Normalizer", "convert %s: %w", key, cause)
	slog.Warn("resampler conversion failed, dropping frame", "key", key.String(), "err", cause)
	if n.onDrop != nil {
		n.onDrop(err)
	}
}

// onFastPath reports whether f can skip the conversion context.
func onFastPath(f audio.Frame) bool {
	if f.Channels != 1 {
		return false
	}
	switch f.Format.Packed() {
	case audio.FormatS16, audio.FormatF32:
		return true
	default:
		return false
	}
}

// directConvert converts a mono S16 or F32 frame without a context.
func directConvert(f audio.Frame) ([]float32, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	pcm := f.Planes[0][:f.Samples*f.Format.BytesPerSample()]

	var out []float32
	if f.Format.Packed() == audio.FormatS16 {
		out = audio.Int16ToFloat32(pcm)
	} else {
		out = audio.Float32FromLE(pcm)
	}
	if f.SampleRate != audio.TargetSampleRate {
		out = audio.Decimate(out, f.SampleRate, audio.TargetSampleRate)
	}
	return out, nil
}
