package decode

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/gaetschwartz/purr/pkg/types"
)

type container int

const (
	containerUnknown container = iota
	containerWAV
	containerOgg
)

// sniff identifies a container from its first bytes.
func sniff(head []byte) container {
	switch {
	case len(head) >= 12 && (bytes.Equal(head[:4], []byte("RIFF")) || bytes.Equal(head[:4], []byte("RF64"))) &&
		bytes.Equal(head[8:12], []byte("WAVE")):
		return containerWAV
	case len(head) >= 4 && bytes.Equal(head[:4], []byte("OggS")):
		return containerOgg
	default:
		return containerUnknown
	}
}

// openDemuxer picks a native demuxer for the container at path, falling back
// to ffmpeg when the container is unknown or the native demuxer cannot read
// it.
func openDemuxer(ctx context.Context, path string, o options) (Demuxer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.Errorf(types.KindAudioProcessing, "decode.Open", "open %q: %w", path, err)
	}

	head := make([]byte, 12)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, types.Errorf(types.KindDecode, "decode.Open", "read header of %q: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, types.Errorf(types.KindDecode, "decode.Open", "rewind %q: %w", path, err)
	}

	var nativeErr error
	switch sniff(head[:n]) {
	case containerWAV:
		d, err := newWAVDemuxer(f)
		if err == nil {
			return d, nil
		}
		nativeErr = err
	case containerOgg:
		d, err := newOggDemuxer(f)
		if err == nil && len(d.Streams()) > 0 {
			return d, nil
		}
		if err == nil {
			err = errors.New("ogg: no opus stream")
		}
		nativeErr = err
	}
	f.Close()

	if _, err := exec.LookPath(o.ffprobePath); err != nil {
		if nativeErr != nil {
			return nil, types.Errorf(types.KindDecode, "decode.Open", "%q: %w", path, nativeErr)
		}
		return nil, types.Errorf(types.KindDecode, "decode.Open", "%q: unsupported container and %s is not available", path, o.ffprobePath)
	}
	if nativeErr != nil {
		slog.Debug("native demuxer rejected file, falling back to ffmpeg", "path", path, "err", nativeErr)
	}
	d, err := newFFmpegDemuxer(ctx, path, o.ffmpegPath, o.ffprobePath)
	if err != nil {
		return nil, types.Errorf(types.KindDecode, "decode.Open", "%q: %w", path, err)
	}
	return d, nil
}
