package decode

import (
	"encoding/binary"
	"fmt"
	"io"

	"layeh.com/gopus"

	"github.com/gaetschwartz/purr/pkg/audio"
)

// Opus always decodes at 48 kHz in Ogg encapsulation.
const (
	opusSampleRate = 48000
	// opusMaxFrameSize is the largest Opus frame: 120 ms at 48 kHz.
	opusMaxFrameSize = opusSampleRate * 120 / 1000
)

// opusCodec decodes Opus packets into interleaved s16 frames, discarding the
// stream's pre-skip samples.
type opusCodec struct {
	dec      *gopus.Decoder
	channels int
	preSkip  int

	queue []audio.Frame
	eof   bool
}

func newOpusCodec(channels, preSkip int) (*opusCodec, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &opusCodec{dec: dec, channels: channels, preSkip: preSkip}, nil
}

func (c *opusCodec) SendPacket(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("opus: empty packet: %w", ErrInvalidData)
	}
	pcm, err := c.dec.Decode(data, opusMaxFrameSize, false)
	if err != nil {
		return fmt.Errorf("opus: decode %d-byte packet: %v: %w", len(data), err, ErrInvalidData)
	}

	samples := len(pcm) / c.channels
	if c.preSkip > 0 {
		drop := min(c.preSkip, samples)
		c.preSkip -= drop
		pcm = pcm[drop*c.channels:]
		samples -= drop
	}
	if samples == 0 {
		return nil
	}

	buf := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	c.queue = append(c.queue, audio.Frame{
		Planes:     [][]byte{buf},
		Format:     audio.FormatS16,
		Layout:     audio.DefaultLayout(c.channels),
		Channels:   c.channels,
		SampleRate: opusSampleRate,
		Samples:    samples,
	})
	return nil
}

func (c *opusCodec) ReceiveFrame() (audio.Frame, error) {
	if len(c.queue) > 0 {
		f := c.queue[0]
		c.queue = c.queue[1:]
		return f, nil
	}
	if c.eof {
		return audio.Frame{}, io.EOF
	}
	return audio.Frame{}, ErrAgain
}

func (c *opusCodec) SendEOF() error {
	c.eof = true
	return nil
}
