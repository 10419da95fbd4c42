package decode

import (
	"fmt"
	"io"

	"github.com/gaetschwartz/purr/pkg/audio"
)

// pcmCodec frames uncompressed little-endian PCM. 24-bit input is widened to
// 32-bit so every frame carries a standard sample format.
type pcmCodec struct {
	format     audio.SampleFormat
	srcBytes   int
	channels   int
	sampleRate int
	layout     audio.ChannelLayout

	queue []audio.Frame
	eof   bool
}

func newPCMCodec(format audio.SampleFormat, srcBytes, channels, sampleRate int, layout audio.ChannelLayout) *pcmCodec {
	return &pcmCodec{
		format:     format,
		srcBytes:   srcBytes,
		channels:   channels,
		sampleRate: sampleRate,
		layout:     layout,
	}
}

func (c *pcmCodec) blockAlign() int { return c.srcBytes * c.channels }

func (c *pcmCodec) SendPacket(data []byte) error {
	block := c.blockAlign()
	if len(data) == 0 || len(data)%block != 0 {
		return fmt.Errorf("pcm: %d-byte packet is not a multiple of the %d-byte block: %w", len(data), block, ErrInvalidData)
	}

	var buf []byte
	if c.srcBytes == 3 {
		buf = widen24(data)
	} else {
		buf = make([]byte, len(data))
		copy(buf, data)
	}
	c.queue = append(c.queue, audio.Frame{
		Planes:     [][]byte{buf},
		Format:     c.format,
		Layout:     c.layout,
		Channels:   c.channels,
		SampleRate: c.sampleRate,
		Samples:    len(data) / block,
	})
	return nil
}

func (c *pcmCodec) ReceiveFrame() (audio.Frame, error) {
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

func (c *pcmCodec) SendEOF() error {
	c.eof = true
	return nil
}

// widen24 converts packed 24-bit samples to 32-bit samples by shifting them
// into the high bytes.
func widen24(in []byte) []byte {
	n := len(in) / 3
	out := make([]byte, n*4)
	for i := range n {
		out[i*4+1] = in[i*3]
		out[i*4+2] = in[i*3+1]
		out[i*4+3] = in[i*3+2]
	}
	return out
}
