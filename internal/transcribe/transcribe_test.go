package transcribe

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/gaetschwartz/purr/pkg/provider/stt"
	"github.com/gaetschwartz/purr/pkg/provider/stt/mock"
	"github.com/gaetschwartz/purr/pkg/types"
)

func TestBatch_Silence(t *testing.T) {
	path := writeSilence(t, 25)
	sess := &mock.Session{Segments: []stt.RawSegment{seg(" hello", 0, 150), seg(" world", 150, 300)}}
	m, reader := newTestMetrics(t)
	tr := New(&mock.Engine{Session: sess}, testConfig(), WithMetrics(m))

	res, err := tr.Batch(context.Background(), path)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if res.AudioDuration != 25*time.Second {
		t.Errorf("AudioDuration = %v, want 25s", res.AudioDuration)
	}
	if res.Text != " hello world" {
		t.Errorf("Text = %q, want %q", res.Text, " hello world")
	}
	if res.Language != "en" {
		t.Errorf("Language = %q, want en", res.Language)
	}
	if len(res.Segments) != 2 || res.Segments[1].Start != 1500*time.Millisecond || res.Segments[1].End != 3*time.Second {
		t.Errorf("Segments = %+v", res.Segments)
	}
	if res.ProcessingTime <= 0 {
		t.Errorf("ProcessingTime = %v, want > 0", res.ProcessingTime)
	}

	if n := sess.FullCallCount(); n != 1 {
		t.Fatalf("Full calls = %d, want 1", n)
	}
	if got := sess.FullCalls[0].Samples; got != 25*16000 {
		t.Errorf("samples submitted = %d, want %d", got, 25*16000)
	}
	if sess.CloseCallCount != 1 {
		t.Errorf("session closed %d times, want 1", sess.CloseCallCount)
	}
	if got := counter(t, reader, "purr.transcriptions"); got != 1 {
		t.Errorf("purr.transcriptions = %d, want 1", got)
	}
}

func TestBatch_TrimmedSegmentsAreSpaced(t *testing.T) {
	path := writeSilence(t, 3)
	sess := &mock.Session{Segments: []stt.RawSegment{seg("Hello world.", 0, 100), seg("How are you?", 100, 250)}}
	m, _ := newTestMetrics(t)
	tr := New(&mock.Engine{Session: sess}, testConfig(), WithMetrics(m))

	res, err := tr.Batch(context.Background(), path)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if want := "Hello world. How are you?"; res.Text != want {
		t.Errorf("Text = %q, want %q", res.Text, want)
	}
}

func TestBatch_MissingFile(t *testing.T) {
	sess := &mock.Session{}
	m, _ := newTestMetrics(t)
	tr := New(&mock.Engine{Session: sess}, testConfig(), WithMetrics(m))

	_, err := tr.Batch(context.Background(), filepath.Join(t.TempDir(), "nope.wav"))
	if !errors.Is(err, types.ErrAudioProcessing) {
		t.Fatalf("err = %v, want AudioProcessing", err)
	}
	if sess.FullCallCount() != 0 {
		t.Error("engine ran for a missing file")
	}
}

func TestBatch_CorruptPacketSkipped(t *testing.T) {
	demux := newPacketDemuxer(pcmPacket(1600), []byte{0xff, 0x00}, pcmPacket(1600))
	sess := &mock.Session{Segments: []stt.RawSegment{seg(" ok", 0, 20)}}
	m, reader := newTestMetrics(t)
	tr := New(&mock.Engine{Session: sess}, testConfig(), WithMetrics(m), WithOpener(demuxOpener(demux)))

	res, err := tr.Batch(context.Background(), "corrupt.opus")
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if res.AudioDuration != 200*time.Millisecond {
		t.Errorf("AudioDuration = %v, want 200ms", res.AudioDuration)
	}
	if got := counter(t, reader, "purr.decode.packets_skipped"); got != 1 {
		t.Errorf("packets skipped = %d, want 1", got)
	}
	if got := counter(t, reader, "purr.decode.frames"); got != 2 {
		t.Errorf("frames = %d, want 2", got)
	}
}

func TestBatch_NoAudio(t *testing.T) {
	demux := newPacketDemuxer([]byte{0xff})
	m, _ := newTestMetrics(t)
	tr := New(&mock.Engine{}, testConfig(), WithMetrics(m), WithOpener(demuxOpener(demux)))

	_, err := tr.Batch(context.Background(), "empty.wav")
	if types.KindOf(err) != types.KindAudioProcessing {
		t.Fatalf("err = %v, want AudioProcessing", err)
	}
}

func TestBatch_InferenceError(t *testing.T) {
	path := writeSilence(t, 1)
	m, reader := newTestMetrics(t)
	tr := New(&mock.Engine{Session: &mock.Session{FullErr: errEngine}}, testConfig(), WithMetrics(m))

	_, err := tr.Batch(context.Background(), path)
	if types.KindOf(err) != types.KindTranscription {
		t.Fatalf("err = %v, want Transcription", err)
	}
	if !errors.Is(err, errEngine) {
		t.Errorf("err = %v, want to wrap engine error", err)
	}
	if got := counter(t, reader, "purr.transcriptions"); got != 1 {
		t.Errorf("purr.transcriptions = %d, want 1", got)
	}
}

func TestBatch_SessionError(t *testing.T) {
	path := writeSilence(t, 1)
	m, _ := newTestMetrics(t)
	tr := New(&mock.Engine{NewSessionErr: errEngine}, testConfig(), WithMetrics(m))

	_, err := tr.Batch(context.Background(), path)
	if !errors.Is(err, types.ErrTranscription) {
		t.Fatalf("err = %v, want Transcription", err)
	}
}

func TestBatch_DetectedLanguage(t *testing.T) {
	path := writeSilence(t, 1)
	cfg := testConfig()
	cfg.Language = "auto"
	sess := &mock.Session{Language: "de", Segments: []stt.RawSegment{seg(" hallo", 0, 50)}}
	m, _ := newTestMetrics(t)
	tr := New(&mock.Engine{Session: sess}, cfg, WithMetrics(m))

	res, err := tr.Batch(context.Background(), path)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if res.Language != "de" {
		t.Errorf("Language = %q, want de", res.Language)
	}
	if got := sess.FullCalls[0].Params.Language; got != "" {
		t.Errorf("engine language = %q, want empty for detection", got)
	}
}

func TestResultLanguage(t *testing.T) {
	tests := []struct {
		requested, detected, want string
	}{
		{"en", "de", "en"},
		{"auto", "de", "de"},
		{"", "fr", "fr"},
		{"auto", "", ""},
	}
	for _, tt := range tests {
		if got := resultLanguage(tt.requested, tt.detected); got != tt.want {
			t.Errorf("resultLanguage(%q, %q) = %q, want %q", tt.requested, tt.detected, got, tt.want)
		}
	}
}

func TestNew_ClampsChunkBuffer(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkBuffer = 0
	tr := New(&mock.Engine{}, cfg)
	if got := tr.Config().ChunkBuffer; got != 1 {
		t.Errorf("ChunkBuffer = %d, want 1", got)
	}
}
