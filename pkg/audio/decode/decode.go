// Package decode opens audio files and yields their decoded frames.
//
// A file is sniffed by its leading bytes and handed to a [Demuxer]: WAV files
// are read natively, Ogg/Opus files are demuxed natively and decoded with
// libopus, and every other container is delegated to an ffmpeg subprocess.
// The [Decoder] selects the best audio stream, drives the stream's [Codec]
// packet by packet, and yields frames lazily through [Decoder.Next] or
// [Decoder.Frames].
//
// Errors that concern a single packet wrap [ErrInvalidData]; the decoder
// logs and skips such packets. Any other demuxer or codec failure ends
// decoding with a Decode error.
package decode

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"time"

	"github.com/gaetschwartz/purr/pkg/audio"
	"github.com/gaetschwartz/purr/pkg/types"
)

// ErrInvalidData marks a recoverable, packet-level decoding failure.
var ErrInvalidData = errors.New("decode: invalid data")

// ErrAgain is returned by [Codec.ReceiveFrame] when the codec needs another
// packet before it can produce a frame.
var ErrAgain = errors.New("decode: codec needs more input")

// errNoAudio is the cause reported when a stream decoded to nothing.
var errNoAudio = errors.New("no audio data could be extracted from file - file may be corrupted or unsupported")

// StreamInfo describes one audio stream of a container.
type StreamInfo struct {
	// Index identifies the stream in [Packet.Stream].
	Index int

	Codec      string
	Channels   int
	SampleRate int

	// Default is set when the container flags the stream as the default one.
	Default bool
}

// Packet is one unit of compressed data read from a container.
type Packet struct {
	Stream int
	Data   []byte
}

// Demuxer reads packets from a container.
type Demuxer interface {
	// Streams lists the audio streams the demuxer can decode.
	Streams() []StreamInfo

	// NewCodec returns a codec for the stream with the given index.
	NewCodec(stream int) (Codec, error)

	// ReadPacket returns the next packet, io.EOF at the end of input, or an
	// error wrapping ErrInvalidData for a damaged region that was skipped.
	ReadPacket() (Packet, error)

	Close() error
}

// Codec turns packets into frames. Implementations follow a send/receive
// model: after each SendPacket the caller drains ReceiveFrame until it
// returns ErrAgain; after SendEOF ReceiveFrame eventually returns io.EOF.
type Codec interface {
	SendPacket(data []byte) error
	ReceiveFrame() (audio.Frame, error)
	SendEOF() error
}

// BestStream selects the preferred audio stream: default streams first, then
// the one carrying the most samples per second, then the lowest index.
func BestStream(streams []StreamInfo) (StreamInfo, bool) {
	var (
		best  StreamInfo
		found bool
	)
	for _, s := range streams {
		if !found || better(s, best) {
			best, found = s, true
		}
	}
	return best, found
}

func better(a, b StreamInfo) bool {
	if a.Default != b.Default {
		return a.Default
	}
	sa, sb := a.Channels*a.SampleRate, b.Channels*b.SampleRate
	if sa != sb {
		return sa > sb
	}
	return a.Index < b.Index
}

// Option configures [Open] and [NewDecoder].
type Option func(*options)

type options struct {
	ffmpegPath  string
	ffprobePath string
	maxDuration time.Duration
	onSkip      func(error)
}

func defaultOptions() options {
	return options{ffmpegPath: "ffmpeg", ffprobePath: "ffprobe"}
}

// WithFFmpeg sets the ffmpeg and ffprobe executables used for containers
// that are not decoded natively. Empty values keep the defaults, which are
// looked up in PATH.
func WithFFmpeg(ffmpegPath, ffprobePath string) Option {
	return func(o *options) {
		if ffmpegPath != "" {
			o.ffmpegPath = ffmpegPath
		}
		if ffprobePath != "" {
			o.ffprobePath = ffprobePath
		}
	}
}

// WithMaxDuration stops reading packets once d of audio has been decoded.
// Zero means no limit.
func WithMaxDuration(d time.Duration) Option {
	return func(o *options) { o.maxDuration = d }
}

// WithSkipHook registers fn to be called for every skipped packet.
func WithSkipHook(fn func(error)) Option {
	return func(o *options) { o.onSkip = fn }
}

// Open sniffs the file at path and returns a Decoder for its best audio
// stream. ctx bounds any subprocess started for the file.
//
// A missing file or a container without audio streams yields an
// AudioProcessing error; an unreadable container yields a Decode error.
func Open(ctx context.Context, path string, opts ...Option) (*Decoder, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, types.Errorf(types.KindAudioProcessing, "decode.Open", "file %q not found", path)
		}
		return nil, types.Errorf(types.KindAudioProcessing, "decode.Open", "stat %q: %w", path, err)
	}

	demux, err := openDemuxer(ctx, path, o)
	if err != nil {
		return nil, err
	}
	return newDecoder(demux, o)
}

// NewDecoder returns a Decoder reading from demux. It takes ownership of
// demux and closes it on failure.
func NewDecoder(demux Demuxer, opts ...Option) (*Decoder, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return newDecoder(demux, o)
}

func newDecoder(demux Demuxer, o options) (*Decoder, error) {
	best, ok := BestStream(demux.Streams())
	if !ok {
		_ = demux.Close()
		return nil, types.Errorf(types.KindAudioProcessing, "decode.Open", "no audio stream found")
	}
	codec, err := demux.NewCodec(best.Index)
	if err != nil {
		_ = demux.Close()
		return nil, types.Errorf(types.KindDecode, "decode.Open", "open %s codec for stream %d: %w", best.Codec, best.Index, err)
	}
	slog.Debug("audio stream selected",
		"stream", best.Index,
		"codec", best.Codec,
		"channels", best.Channels,
		"sample_rate", best.SampleRate,
	)
	return &Decoder{
		demux:  demux,
		codec:  codec,
		stream: best,
		opts:   o,
	}, nil
}

// Decoder yields the decoded frames of one audio stream. It is owned by a
// single goroutine.
type Decoder struct {
	demux  Demuxer
	codec  Codec
	stream StreamInfo
	opts   options

	frames  int
	skipped int
	decoded time.Duration
	flushed bool
	err     error
}

// Stream returns the selected stream.
func (d *Decoder) Stream() StreamInfo { return d.stream }

// Skipped returns the number of packets skipped as invalid so far.
func (d *Decoder) Skipped() int { return d.skipped }

// Next returns the next decoded frame. It returns io.EOF after the last
// frame, or an AudioProcessing error if the stream ended without producing
// any frame. Other errors are fatal Decode errors; once Next has returned an
// error it keeps returning it.
func (d *Decoder) Next() (audio.Frame, error) {
	if d.err != nil {
		return audio.Frame{}, d.err
	}
	for {
		f, err := d.codec.ReceiveFrame()
		switch {
		case err == nil:
			d.frames++
			d.decoded += f.Duration()
			return f, nil
		case errors.Is(err, io.EOF):
			return audio.Frame{}, d.finish()
		case errors.Is(err, ErrInvalidData):
			d.skip(err)
			continue
		case !errors.Is(err, ErrAgain):
			return audio.Frame{}, d.fail(types.Errorf(types.KindDecode, "decode.Next", "receive frame: %w", err))
		}

		if d.flushed {
			return audio.Frame{}, d.finish()
		}
		if d.opts.maxDuration > 0 && d.decoded >= d.opts.maxDuration {
			slog.Debug("decode duration limit reached", "limit", d.opts.maxDuration)
			d.flush()
			continue
		}

		pkt, err := d.demux.ReadPacket()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				d.flush()
			case errors.Is(err, ErrInvalidData):
				d.skip(err)
			default:
				return audio.Frame{}, d.fail(types.Errorf(types.KindDecode, "decode.Next", "read packet: %w", err))
			}
			continue
		}
		if pkt.Stream != d.stream.Index {
			continue
		}
		if err := d.codec.SendPacket(pkt.Data); err != nil {
			if errors.Is(err, ErrInvalidData) {
				d.skip(err)
				continue
			}
			return audio.Frame{}, d.fail(types.Errorf(types.KindDecode, "decode.Next", "send packet: %w", err))
		}
	}
}

// Frames returns an iterator over the remaining frames. Iteration stops
// after the last frame or after yielding the first error.
func (d *Decoder) Frames() iter.Seq2[audio.Frame, error] {
	return func(yield func(audio.Frame, error) bool) {
		for {
			f, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(audio.Frame{}, err)
				return
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

// Close releases the demuxer and any subprocess it started.
func (d *Decoder) Close() error {
	return d.demux.Close()
}

func (d *Decoder) flush() {
	d.flushed = true
	if err := d.codec.SendEOF(); err != nil {
		slog.Warn("decoder flush failed, keeping frames decoded so far", "err", err, "frames", d.frames)
	}
}

func (d *Decoder) skip(err error) {
	d.skipped++
	slog.Warn("skipping undecodable packet", "err", err, "stream", d.stream.Index, "skipped", d.skipped)
	if d.opts.onSkip != nil {
		d.opts.onSkip(err)
	}
}

func (d *Decoder) finish() error {
	if d.frames == 0 {
		return d.fail(&types.Error{Kind: types.KindAudioProcessing, Op: "decode.Next", Err: errNoAudio})
	}
	d.err = io.EOF
	return io.EOF
}

func (d *Decoder) fail(err error) error {
	d.err = err
	return err
}
