// Package audio holds the raw and normalised audio representations used by
// the transcription pipeline, PCM conversion helpers, and the fixed-size
// [Chunker] that windows normalised audio for incremental inference.
package audio

import (
	"fmt"
	"math/bits"
	"time"
)

// TargetSampleRate is the rate, in Hz, of all normalised audio.
const TargetSampleRate = 16000

// ChunkSamples is the number of normalised samples per full chunk (10 s).
const ChunkSamples = 10 * TargetSampleRate

// SampleFormat identifies the encoding of samples in a [Frame].
type SampleFormat uint8

const (
	FormatNone SampleFormat = iota
	FormatU8
	FormatS16
	FormatS32
	FormatF32
	FormatF64
	FormatU8P
	FormatS16P
	FormatS32P
	FormatF32P
	FormatF64P
)

// BytesPerSample returns the size of one sample of one channel, or 0 for
// FormatNone and unknown values.
func (f SampleFormat) BytesPerSample() int {
	switch f.Packed() {
	case FormatU8:
		return 1
	case FormatS16:
		return 2
	case FormatS32, FormatF32:
		return 4
	case FormatF64:
		return 8
	default:
		return 0
	}
}

// IsPlanar reports whether each channel is stored in its own plane.
func (f SampleFormat) IsPlanar() bool {
	return f >= FormatU8P && f <= FormatF64P
}

// Packed returns the interleaved counterpart of a planar format, or f itself.
func (f SampleFormat) Packed() SampleFormat {
	if f.IsPlanar() {
		return f - (FormatU8P - FormatU8)
	}
	return f
}

// IsValid reports whether f is a known, concrete sample format.
func (f SampleFormat) IsValid() bool {
	return f > FormatNone && f <= FormatF64P
}

func (f SampleFormat) String() string {
	names := [...]string{"none", "u8", "s16", "s32", "flt", "dbl", "u8p", "s16p", "s32p", "fltp", "dblp"}
	if int(f) < len(names) {
		return names[f]
	}
	return fmt.Sprintf("SampleFormat(%d)", uint8(f))
}

// ChannelLayout is a bit mask of speaker positions. The zero value means the
// source did not report a layout.
type ChannelLayout uint64

const (
	ChannelFrontLeft ChannelLayout = 1 << iota
	ChannelFrontRight
	ChannelFrontCenter
	ChannelLowFrequency
	ChannelBackLeft
	ChannelBackRight
)

// Canonical layouts.
const (
	LayoutMono   = ChannelFrontCenter
	LayoutStereo = ChannelFrontLeft | ChannelFrontRight
)

// Channels returns the number of channels in the layout.
func (l ChannelLayout) Channels() int {
	return bits.OnesCount64(uint64(l))
}

// DefaultLayout returns the canonical layout for n channels: mono for 1,
// stereo for 2, and the lowest n speaker positions otherwise.
func DefaultLayout(n int) ChannelLayout {
	switch {
	case n <= 0:
		return 0
	case n == 1:
		return LayoutMono
	case n == 2:
		return LayoutStereo
	case n >= 64:
		return ^ChannelLayout(0)
	default:
		return ChannelLayout(1)<<n - 1
	}
}

// Frame is one decoded audio frame with its format metadata. Frames are
// produced by the decoder and consumed immediately by the normaliser.
type Frame struct {
	// Planes holds the sample data: a single interleaved plane for packed
	// formats, one plane per channel for planar formats.
	Planes [][]byte

	Format SampleFormat

	// Layout is the reported channel layout; zero if unknown.
	Layout ChannelLayout

	// Channels is the channel count, independent of Layout.
	Channels int

	SampleRate int

	// Samples is the number of samples per channel.
	Samples int
}

// EffectiveLayout returns the frame's layout, substituting the canonical
// layout for its channel count when the reported layout has no channels.
func (f Frame) EffectiveLayout() ChannelLayout {
	if f.Layout.Channels() == 0 {
		return DefaultLayout(f.Channels)
	}
	return f.Layout
}

// Validate reports whether the planes are large enough for Samples samples
// of every channel.
func (f Frame) Validate() error {
	bps := f.Format.BytesPerSample()
	if bps == 0 {
		return fmt.Errorf("audio: unsupported sample format %s", f.Format)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("audio: frame has %d channels", f.Channels)
	}
	if f.Format.IsPlanar() {
		if len(f.Planes) < f.Channels {
			return fmt.Errorf("audio: planar frame has %d planes for %d channels", len(f.Planes), f.Channels)
		}
		for i := range f.Channels {
			if len(f.Planes[i]) < f.Samples*bps {
				return fmt.Errorf("audio: plane %d holds %d bytes, want %d", i, len(f.Planes[i]), f.Samples*bps)
			}
		}
		return nil
	}
	if len(f.Planes) < 1 || len(f.Planes[0]) < f.Samples*f.Channels*bps {
		return fmt.Errorf("audio: packed frame too short for %d samples x %d channels", f.Samples, f.Channels)
	}
	return nil
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples) * time.Second / time.Duration(f.SampleRate)
}

// Chunk is a window of normalised mono float32 audio at [TargetSampleRate].
type Chunk struct {
	Samples    []float32
	SampleRate int

	// Index is the 0-based position of the chunk within its stream.
	Index int

	// StartTime is the chunk's offset into the normalised stream.
	StartTime time.Duration

	IsFinal bool
}

// Duration returns the playback length of the chunk.
func (c Chunk) Duration() time.Duration {
	return SamplesDuration(len(c.Samples))
}

// SamplesDuration converts a count of normalised samples to a duration.
func SamplesDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / TargetSampleRate
}
