package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/gaetschwartz/purr/internal/config"
	"github.com/gaetschwartz/purr/internal/observe"
	"github.com/gaetschwartz/purr/pkg/audio"
	"github.com/gaetschwartz/purr/pkg/audio/decode"
	"github.com/gaetschwartz/purr/pkg/provider/stt"
)

// writeSilence writes a mono 16 kHz 16-bit WAV holding the given number of seconds of silence.
func writeSilence(t *testing.T, seconds int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "silence.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, audio.TargetSampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: audio.TargetSampleRate},
		Data:           make([]int, seconds*audio.TargetSampleRate),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return path
}

func testConfig() config.TranscriptionConfig {
	cfg := config.Default().Transcription
	cfg.Language = "en"
	return cfg
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// counter returns the summed value of an int64 counter, or 0 if it was never
// recorded.
func counter(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not an int64 sum", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

// seg builds a raw engine segment with centisecond times.
func seg(text string, t0, t1 int64) stt.RawSegment {
	return stt.RawSegment{Text: text, Start: t0, End: t1}
}

// packetDemuxer serves mono 16 kHz S16 packets. A packet whose first byte is
// 0xff is rejected by the codec as invalid data.
type packetDemuxer struct {
	packets [][]byte
	pos     int
	codec   *packetCodec
}

func newPacketDemuxer(packets ...[]byte) *packetDemuxer {
	return &packetDemuxer{packets: packets, codec: &packetCodec{}}
}

func (d *packetDemuxer) Streams() []decode.StreamInfo {
	return []decode.StreamInfo{{Index: 0, Codec: "pcm_s16le", Channels: 1, SampleRate: audio.TargetSampleRate}}
}

func (d *packetDemuxer) NewCodec(int) (decode.Codec, error) { return d.codec, nil }

func (d *packetDemuxer) ReadPacket() (decode.Packet, error) {
	if d.pos >= len(d.packets) {
		return decode.Packet{}, io.EOF
	}
	p := d.packets[d.pos]
	d.pos++
	return decode.Packet{Stream: 0, Data: p}, nil
}

func (d *packetDemuxer) Close() error { return nil }

type packetCodec struct {
	queue []audio.Frame
	eof   bool
}

func (c *packetCodec) SendPacket(data []byte) error {
	if len(data) > 0 && data[0] == 0xff {
		return fmt.Errorf("corrupt packet: %w", decode.ErrInvalidData)
	}
	c.queue = append(c.queue, audio.Frame{
		Planes:     [][]byte{data},
		Format:     audio.FormatS16,
		Channels:   1,
		SampleRate: audio.TargetSampleRate,
		Samples:    len(data) / 2,
	})
	return nil
}

func (c *packetCodec) ReceiveFrame() (audio.Frame, error) {
	if len(c.queue) > 0 {
		f := c.queue[0]
		c.queue = c.queue[1:]
		return f, nil
	}
	if c.eof {
		return audio.Frame{}, io.EOF
	}
	return audio.Frame{}, decode.ErrAgain
}

func (c *packetCodec) SendEOF() error {
	c.eof = true
	return nil
}

// pcmPacket returns n zero-valued S16 samples.
func pcmPacket(n int) []byte {
	return make([]byte, n*2)
}

func demuxOpener(d decode.Demuxer) Opener {
	return func(_ context.Context, _ string, opts ...decode.Option) (*decode.Decoder, error) {
		return decode.NewDecoder(d, opts...)
	}
}

// drainEvents reads a stream to the end.
func drainEvents(t *testing.T, s *Stream) ([]Event, error) {
	t.Helper()
	var (
		evs []Event
		err error
	)
	for ev := range s.Events() {
		if ev.Err != nil {
			if err != nil {
				t.Fatalf("second terminal error %v after %v", ev.Err, err)
			}
			err = ev.Err
			continue
		}
		if err != nil {
			t.Fatalf("chunk %d received after terminal error", ev.Chunk.ChunkIndex)
		}
		evs = append(evs, ev)
	}
	return evs, err
}

var errEngine = errors.New("engine failure")
