package decode

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/wav"

	"github.com/gaetschwartz/purr/pkg/audio"
)

// WAVE format tags from the fmt chunk.
const (
	wavFormatPCM        = 1
	wavFormatIEEEFloat  = 3
	wavFormatExtensible = 0xFFFE
)

// wavFramesPerPacket is the number of sample frames per demuxed packet.
const wavFramesPerPacket = 1024

// wavDemuxer reads the data chunk of a RIFF/WAVE file in fixed-size packets.
type wavDemuxer struct {
	f      *os.File
	pcm    io.Reader
	info   StreamInfo
	format audio.SampleFormat
	width  int
	buf    []byte
}

func newWAVDemuxer(f *os.File) (*wavDemuxer, error) {
	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("wav: read header: %w", err)
	}
	if dec.NumChans == 0 || dec.SampleRate == 0 {
		return nil, errors.New("wav: missing or empty fmt chunk")
	}

	format, width, err := wavSampleFormat(dec.WavAudioFormat, int(dec.BitDepth))
	if err != nil {
		return nil, err
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("wav: locate data chunk: %w", err)
	}
	if dec.PCMChunk == nil {
		return nil, errors.New("wav: no data chunk")
	}

	channels := int(dec.NumChans)
	return &wavDemuxer{
		f:   f,
		pcm: io.LimitReader(dec.PCMChunk, int64(dec.PCMSize)),
		info: StreamInfo{
			Index:      0,
			Codec:      fmt.Sprintf("pcm_%s", format),
			Channels:   channels,
			SampleRate: int(dec.SampleRate),
			Default:    true,
		},
		format: format,
		width:  width,
		buf:    make([]byte, wavFramesPerPacket*width*channels),
	}, nil
}

// wavSampleFormat maps a WAVE format tag and bit depth to a frame sample
// format and the on-disk width of one sample in bytes.
func wavSampleFormat(tag uint16, bits int) (audio.SampleFormat, int, error) {
	switch tag {
	case wavFormatPCM, wavFormatExtensible:
		switch bits {
		case 8:
			return audio.FormatU8, 1, nil
		case 16:
			return audio.FormatS16, 2, nil
		case 24:
			return audio.FormatS32, 3, nil
		case 32:
			return audio.FormatS32, 4, nil
		}
	case wavFormatIEEEFloat:
		switch bits {
		case 32:
			return audio.FormatF32, 4, nil
		case 64:
			return audio.FormatF64, 8, nil
		}
	}
	return audio.FormatNone, 0, fmt.Errorf("wav: unsupported encoding (format tag %#x, %d bits)", tag, bits)
}

func (d *wavDemuxer) Streams() []StreamInfo { return []StreamInfo{d.info} }

func (d *wavDemuxer) NewCodec(stream int) (Codec, error) {
	if stream != d.info.Index {
		return nil, fmt.Errorf("wav: no stream %d", stream)
	}
	return newPCMCodec(d.format, d.width, d.info.Channels, d.info.SampleRate, audio.DefaultLayout(d.info.Channels)), nil
}

// ReadPacket returns up to wavFramesPerPacket sample frames. A data chunk
// that ends mid-frame yields a short, misaligned final packet which the codec
// rejects as invalid data.
func (d *wavDemuxer) ReadPacket() (Packet, error) {
	n, err := io.ReadFull(d.pcm, d.buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return Packet{}, err
	}
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return Packet{}, err
	}
	data := make([]byte, n)
	copy(data, d.buf[:n])
	return Packet{Stream: d.info.Index, Data: data}, nil
}

func (d *wavDemuxer) Close() error { return d.f.Close() }
