package decode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/gaetschwartz/purr/pkg/audio"
)

// ffmpegFramesPerPacket is the number of sample frames per packet read from
// the ffmpeg pipe.
const ffmpegFramesPerPacket = 1024

// ffmpegDemuxer lists streams with ffprobe and decodes the selected one with
// an ffmpeg subprocess that writes s16le PCM at the stream's native rate and
// channel count.
type ffmpegDemuxer struct {
	ctx     context.Context
	path    string
	ffmpeg  string
	streams []StreamInfo
	layouts map[int]audio.ChannelLayout

	cmd       *exec.Cmd
	stdout    io.ReadCloser
	stderr    bytes.Buffer
	selected  int
	buf       []byte
	delivered int64
	done      bool
}

func newFFmpegDemuxer(ctx context.Context, path, ffmpegPath, ffprobePath string) (*ffmpegDemuxer, error) {
	out, err := exec.CommandContext(ctx, ffprobePath,
		"-v", "error",
		"-select_streams", "a",
		"-show_streams",
		"-of", "json",
		path,
	).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("ffprobe: %w", err)
	}
	streams, layouts, err := parseStreams(out)
	if err != nil {
		return nil, err
	}
	return &ffmpegDemuxer{
		ctx:     ctx,
		path:    path,
		ffmpeg:  ffmpegPath,
		streams: streams,
		layouts: layouts,
	}, nil
}

// streamsOutput is the subset of `ffprobe -show_streams -of json` we read.
type streamsOutput struct {
	Streams []struct {
		Index         int    `json:"index"`
		CodecName     string `json:"codec_name"`
		CodecType     string `json:"codec_type"`
		SampleRate    string `json:"sample_rate"`
		Channels      int    `json:"channels"`
		ChannelLayout string `json:"channel_layout"`
		Disposition   struct {
			Default int `json:"default"`
		} `json:"disposition"`
	} `json:"streams"`
}

// parseStreams extracts the decodable audio streams from ffprobe JSON output.
func parseStreams(data []byte) ([]StreamInfo, map[int]audio.ChannelLayout, error) {
	var so streamsOutput
	if err := json.Unmarshal(data, &so); err != nil {
		return nil, nil, fmt.Errorf("ffprobe: parse output: %w", err)
	}
	var streams []StreamInfo
	layouts := make(map[int]audio.ChannelLayout)
	for _, s := range so.Streams {
		if s.CodecType != "audio" {
			continue
		}
		rate, err := strconv.Atoi(s.SampleRate)
		if err != nil || rate <= 0 || s.Channels <= 0 {
			slog.Debug("ffprobe: skipping audio stream without rate or channels", "stream", s.Index, "codec", s.CodecName)
			continue
		}
		streams = append(streams, StreamInfo{
			Index:      s.Index,
			Codec:      s.CodecName,
			Channels:   s.Channels,
			SampleRate: rate,
			Default:    s.Disposition.Default == 1,
		})
		layouts[s.Index] = layoutByName(s.ChannelLayout)
	}
	return streams, layouts, nil
}

// layoutByName maps ffmpeg layout names to layouts; unknown names map to zero
// so the channel count decides.
func layoutByName(name string) audio.ChannelLayout {
	switch name {
	case "mono":
		return audio.LayoutMono
	case "stereo":
		return audio.LayoutStereo
	default:
		return 0
	}
}

func (d *ffmpegDemuxer) Streams() []StreamInfo { return d.streams }

func (d *ffmpegDemuxer) NewCodec(stream int) (Codec, error) {
	if d.cmd != nil {
		return nil, errors.New("ffmpeg: a stream is already being decoded")
	}
	var info *StreamInfo
	for i := range d.streams {
		if d.streams[i].Index == stream {
			info = &d.streams[i]
			break
		}
	}
	if info == nil {
		return nil, fmt.Errorf("ffmpeg: no audio stream %d", stream)
	}

	cmd := exec.CommandContext(d.ctx, d.ffmpeg,
		"-nostdin",
		"-v", "error",
		"-i", d.path,
		"-map", fmt.Sprintf("0:%d", stream),
		"-vn",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(info.Channels),
		"-ar", strconv.Itoa(info.SampleRate),
		"-f", "s16le",
		"pipe:1",
	)
	cmd.Stderr = &d.stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: start: %w", err)
	}
	d.cmd, d.stdout, d.selected = cmd, stdout, stream
	d.buf = make([]byte, ffmpegFramesPerPacket*2*info.Channels)

	return newPCMCodec(audio.FormatS16, 2, info.Channels, info.SampleRate, d.layouts[stream]), nil
}

// ReadPacket reads the next block of PCM from ffmpeg. If ffmpeg exits with an
// error after producing audio, the error is logged and the stream ends; if it
// fails before producing anything, the error is returned.
func (d *ffmpegDemuxer) ReadPacket() (Packet, error) {
	if d.cmd == nil {
		return Packet{}, errors.New("ffmpeg: no stream selected")
	}
	if d.done {
		return Packet{}, io.EOF
	}
	n, err := io.ReadFull(d.stdout, d.buf)
	if n > 0 {
		d.delivered += int64(n)
		data := make([]byte, n)
		copy(data, d.buf[:n])
		return Packet{Stream: d.selected, Data: data}, nil
	}
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return Packet{}, fmt.Errorf("ffmpeg: read pcm: %w", err)
	}

	d.done = true
	if werr := d.cmd.Wait(); werr != nil {
		msg := strings.TrimSpace(d.stderr.String())
		if d.delivered == 0 {
			return Packet{}, fmt.Errorf("ffmpeg: %w: %s", werr, msg)
		}
		slog.Warn("ffmpeg exited with an error after producing audio", "err", werr, "stderr", msg, "bytes", d.delivered)
	}
	return Packet{}, io.EOF
}

func (d *ffmpegDemuxer) Close() error {
	if d.cmd == nil || d.done {
		return nil
	}
	d.done = true
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	_ = d.cmd.Wait()
	return nil
}
