package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Int16ToFloat32 converts little-endian int16 PCM to float32 samples in
// [-1, 1) by dividing by 32768. A trailing odd byte is ignored.
func Int16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32FromLE reinterprets little-endian IEEE-754 float32 PCM. Trailing
// bytes that do not form a full sample are ignored.
func Float32FromLE(pcm []byte) []float32 {
	n := len(pcm) / 4
	out := make([]float32, n)
	for i := range n {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(pcm[i*4:]))
	}
	return out
}

// Decimate converts samples from srcRate to dstRate by strided selection: a
// floating-point cursor advances by srcRate/dstRate and the sample at the
// cursor's integer part is taken while it is in bounds. No filtering is
// applied. If the rates are equal or invalid the input is returned unchanged.
func Decimate(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return samples
	}
	step := float64(srcRate) / float64(dstRate)
	out := make([]float32, 0, int(float64(len(samples))/step)+1)
	for k := 0; ; k++ {
		idx := int(float64(k) * step)
		if idx >= len(samples) {
			break
		}
		out = append(out, samples[idx])
	}
	return out
}

// SampleAt returns sample i of channel ch in f as a float in [-1, 1].
// The caller must have checked the frame with [Frame.Validate].
func SampleAt(f Frame, ch, i int) float32 {
	bps := f.Format.BytesPerSample()
	var b []byte
	if f.Format.IsPlanar() {
		b = f.Planes[ch][i*bps:]
	} else {
		b = f.Planes[0][(i*f.Channels+ch)*bps:]
	}
	switch f.Format.Packed() {
	case FormatU8:
		return (float32(b[0]) - 128) / 128
	case FormatS16:
		return float32(int16(binary.LittleEndian.Uint16(b))) / 32768.0
	case FormatS32:
		return float32(float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648.0)
	case FormatF32:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	case FormatF64:
		return float32(math.Float64frombits(binary.LittleEndian.Uint64(b)))
	default:
		return 0
	}
}

// DownmixToMono averages all channels of f into a single float32 channel at
// the frame's own sample rate.
func DownmixToMono(f Frame) ([]float32, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	out := make([]float32, f.Samples)
	inv := 1 / float32(f.Channels)
	for i := range f.Samples {
		var sum float32
		for ch := range f.Channels {
			sum += SampleAt(f, ch, i)
		}
		out[i] = sum * inv
	}
	return out, nil
}

// formatString returns a human-readable description of a frame format,
// e.g. "44100Hz stereo s16".
func formatString(rate, channels int, format SampleFormat) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s %s", rate, ch, format)
}

// String implements fmt.Stringer for log output.
func (f Frame) String() string {
	return formatString(f.SampleRate, f.Channels, f.Format)
}
