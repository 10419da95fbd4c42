package resample

import (
	"errors"
	"fmt"
	"math"

	"github.com/gaetschwartz/purr/pkg/audio"
)

// Linear is the built-in [Factory]. Its contexts average all channels to mono
// and resample with linear interpolation, carrying the interpolation phase
// and the last sample across frame boundaries.
func Linear(key Key) (Context, error) {
	if !key.Format.IsValid() {
		return nil, fmt.Errorf("resample: unsupported sample format %s", key.Format)
	}
	if key.Rate <= 0 {
		return nil, fmt.Errorf("resample: invalid source rate %d", key.Rate)
	}
	ch := key.Layout.Channels()
	if ch == 0 {
		return nil, errors.New("resample: channel layout has no channels")
	}
	return &linearContext{
		key:      key,
		channels: ch,
		step:     float64(key.Rate) / float64(audio.TargetSampleRate),
	}, nil
}

type linearContext struct {
	key      Key
	channels int
	step     float64

	// pos is the source position of the next output sample, relative to the
	// first sample of the next frame; -1 refers to prev.
	pos  float64
	prev float32
}

func (c *linearContext) Convert(f audio.Frame) ([]float32, error) {
	if f.Format != c.key.Format || f.SampleRate != c.key.Rate {
		return nil, fmt.Errorf("resample: frame %s does not match context %s", f, c.key)
	}
	if f.Channels != c.channels {
		return nil, fmt.Errorf("resample: frame has %d channels, layout has %d", f.Channels, c.channels)
	}
	mono, err := audio.DownmixToMono(f)
	if err != nil {
		return nil, err
	}
	if c.key.Rate == audio.TargetSampleRate || len(mono) == 0 {
		return mono, nil
	}

	at := func(i int) float32 {
		if i < 0 {
			return c.prev
		}
		return mono[i]
	}

	out := make([]float32, 0, int(float64(len(mono))/c.step)+1)
	for {
		i := int(math.Floor(c.pos))
		if i+1 >= len(mono) {
			break
		}
		frac := float32(c.pos - float64(i))
		out = append(out, at(i)*(1-frac)+at(i+1)*frac)
		c.pos += c.step
	}
	c.prev = mono[len(mono)-1]
	c.pos -= float64(len(mono))
	return out, nil
}
