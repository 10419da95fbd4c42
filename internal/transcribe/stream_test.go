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

func TestStream_Silence(t *testing.T) {
	path := writeSilence(t, 25)
	sess := &mock.Session{Segments: []stt.RawSegment{seg(" x", 100, 200)}}
	m, reader := newTestMetrics(t)
	tr := New(&mock.Engine{Session: sess}, testConfig(), WithMetrics(m))

	s, err := tr.Stream(context.Background(), path)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	evs, err := drainEvents(t, s)
	if err != nil {
		t.Fatalf("terminal error: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("got %d chunks, want 3", len(evs))
	}

	wantStart := []time.Duration{0, 10 * time.Second, 20 * time.Second}
	wantEnd := []time.Duration{10 * time.Second, 20 * time.Second, 25 * time.Second}
	for i, ev := range evs {
		c := ev.Chunk
		if c.ChunkIndex != i {
			t.Errorf("chunk %d: index = %d", i, c.ChunkIndex)
		}
		if c.Start != wantStart[i] || c.End != wantEnd[i] {
			t.Errorf("chunk %d: window = [%v, %v], want [%v, %v]", i, c.Start, c.End, wantStart[i], wantEnd[i])
		}
		if c.IsFinal != (i == 2) {
			t.Errorf("chunk %d: IsFinal = %v", i, c.IsFinal)
		}
		if (c.FinalStats != nil) != (i == 2) {
			t.Errorf("chunk %d: FinalStats = %+v", i, c.FinalStats)
		}
		if len(c.Segments) != 1 || c.Segments[0].Start != wantStart[i]+time.Second {
			t.Errorf("chunk %d: segments = %+v, want one at %v", i, c.Segments, wantStart[i]+time.Second)
		}
	}

	st := evs[2].Chunk.FinalStats
	if st.AudioDuration != 25*time.Second {
		t.Errorf("AudioDuration = %v, want 25s", st.AudioDuration)
	}
	if st.SegmentCount != 3 || st.WordCount != 3 {
		t.Errorf("stats = %+v, want 3 segments and 3 words", st)
	}

	wantSamples := []int{160000, 160000, 80000}
	for i, call := range sess.FullCalls {
		if call.Samples != wantSamples[i] {
			t.Errorf("call %d: %d samples, want %d", i, call.Samples, wantSamples[i])
		}
	}
	if sess.Overlapped() {
		t.Error("inference calls overlapped")
	}
	if s.Language() != "en" {
		t.Errorf("Language = %q, want en", s.Language())
	}
	if sess.CloseCallCount != 1 {
		t.Errorf("session closed %d times, want 1", sess.CloseCallCount)
	}
	if got := counter(t, reader, "purr.chunks.emitted"); got != 3 {
		t.Errorf("chunks emitted = %d, want 3", got)
	}
	if got := counter(t, reader, "purr.active_streams"); got != 0 {
		t.Errorf("active streams = %d, want 0", got)
	}
}

func TestStream_TrimmedSegmentsWordCount(t *testing.T) {
	path := writeSilence(t, 15)
	sess := &mock.Session{Segments: []stt.RawSegment{seg("Hello world.", 0, 100), seg("How are you?", 100, 250)}}
	m, _ := newTestMetrics(t)
	tr := New(&mock.Engine{Session: sess}, testConfig(), WithMetrics(m))

	s, err := tr.Stream(context.Background(), path)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	res, err := Collect(s)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if want := "Hello world. How are you? Hello world. How are you?"; res.Text != want {
		t.Errorf("Text = %q, want %q", res.Text, want)
	}

	s, err = tr.Stream(context.Background(), path)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	evs, err := drainEvents(t, s)
	if err != nil {
		t.Fatalf("terminal error: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("got %d chunks, want 2", len(evs))
	}
	if got := evs[0].Chunk.Text; got != "Hello world. How are you?" {
		t.Errorf("chunk text = %q", got)
	}
	st := evs[1].Chunk.FinalStats
	if st == nil || st.WordCount != 12 {
		t.Errorf("FinalStats = %+v, want 12 words", st)
	}
}

func TestStream_ExactChunkMultiple(t *testing.T) {
	path := writeSilence(t, 20)
	sess := &mock.Session{}
	m, _ := newTestMetrics(t)
	tr := New(&mock.Engine{Session: sess}, testConfig(), WithMetrics(m))

	s, err := tr.Stream(context.Background(), path)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	evs, err := drainEvents(t, s)
	if err != nil {
		t.Fatalf("terminal error: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("got %d chunks, want 2", len(evs))
	}
	if !evs[1].Chunk.IsFinal || evs[1].Chunk.End != 20*time.Second {
		t.Errorf("last chunk = %+v, want final ending at 20s", evs[1].Chunk)
	}
}

func TestStream_MissingFile(t *testing.T) {
	sess := &mock.Session{}
	m, _ := newTestMetrics(t)
	tr := New(&mock.Engine{Session: sess}, testConfig(), WithMetrics(m))

	s, err := tr.Stream(context.Background(), filepath.Join(t.TempDir(), "nope.wav"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	evs, err := drainEvents(t, s)
	if len(evs) != 0 {
		t.Errorf("got %d chunks, want none", len(evs))
	}
	if types.KindOf(err) != types.KindAudioProcessing {
		t.Fatalf("terminal error = %v, want AudioProcessing", err)
	}
	if sess.FullCallCount() != 0 {
		t.Error("engine ran for a missing file")
	}
	if sess.CloseCallCount != 1 {
		t.Errorf("session closed %d times, want 1", sess.CloseCallCount)
	}
}

func TestStream_SessionError(t *testing.T) {
	m, _ := newTestMetrics(t)
	tr := New(&mock.Engine{NewSessionErr: errEngine}, testConfig(), WithMetrics(m))

	s, err := tr.Stream(context.Background(), "any.wav")
	if s != nil || !errors.Is(err, types.ErrTranscription) {
		t.Fatalf("Stream = %v, %v, want Transcription error", s, err)
	}
}

func TestStream_FailedChunkSkipped(t *testing.T) {
	path := writeSilence(t, 25)
	sess := &mock.Session{FullFunc: func(call int, _ []float32, _ stt.Params) ([]stt.RawSegment, error) {
		if call == 1 {
			return nil, errEngine
		}
		return []stt.RawSegment{seg(" word", 0, 100)}, nil
	}}
	m, reader := newTestMetrics(t)
	tr := New(&mock.Engine{Session: sess}, testConfig(), WithMetrics(m))

	s, err := tr.Stream(context.Background(), path)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	evs, err := drainEvents(t, s)
	if err != nil {
		t.Fatalf("terminal error: %v", err)
	}
	if len(evs) != 2 || evs[0].Chunk.ChunkIndex != 0 || evs[1].Chunk.ChunkIndex != 2 {
		t.Fatalf("got %d chunks, want indices 0 and 2", len(evs))
	}
	st := evs[1].Chunk.FinalStats
	if st == nil {
		t.Fatal("final chunk has no stats")
	}
	if st.AudioDuration != 25*time.Second {
		t.Errorf("AudioDuration = %v, want 25s including the failed chunk", st.AudioDuration)
	}
	if st.SegmentCount != 2 {
		t.Errorf("SegmentCount = %d, want 2", st.SegmentCount)
	}
	if got := counter(t, reader, "purr.chunks.failed"); got != 1 {
		t.Errorf("chunks failed = %d, want 1", got)
	}
}

func TestStream_FailedFinalChunk(t *testing.T) {
	path := writeSilence(t, 15)
	sess := &mock.Session{FullFunc: func(call int, _ []float32, _ stt.Params) ([]stt.RawSegment, error) {
		if call == 1 {
			return nil, errEngine
		}
		return []stt.RawSegment{seg(" first", 0, 100)}, nil
	}}
	m, _ := newTestMetrics(t)
	tr := New(&mock.Engine{Session: sess}, testConfig(), WithMetrics(m))

	s, err := tr.Stream(context.Background(), path)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	res, err := Collect(s)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if res.Text != " first" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.AudioDuration != 10*time.Second {
		t.Errorf("AudioDuration = %v, want 10s from the delivered chunks", res.AudioDuration)
	}
	if res.ProcessingTime <= 0 {
		t.Errorf("ProcessingTime = %v, want > 0", res.ProcessingTime)
	}
}

func TestStream_Close(t *testing.T) {
	path := writeSilence(t, 25)
	sess := &mock.Session{Block: make(chan struct{})}
	m, reader := newTestMetrics(t)
	tr := New(&mock.Engine{Session: sess}, testConfig(), WithMetrics(m))

	s, err := tr.Stream(context.Background(), path)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}

	if _, ok := <-s.Events(); ok {
		t.Error("events still open after Close")
	}
	if sess.CloseCallCount != 1 {
		t.Errorf("session closed %d times, want 1", sess.CloseCallCount)
	}
	if got := counter(t, reader, "purr.active_streams"); got != 0 {
		t.Errorf("active streams = %d, want 0", got)
	}
	s.Close()
}

func TestStream_ContextCancelled(t *testing.T) {
	path := writeSilence(t, 25)
	sess := &mock.Session{Block: make(chan struct{})}
	m, _ := newTestMetrics(t)
	tr := New(&mock.Engine{Session: sess}, testConfig(), WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	s, err := tr.Stream(ctx, path)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	cancel()

	evs, err := drainEvents(t, s)
	if len(evs) != 0 {
		t.Errorf("got %d chunks after cancellation, want none", len(evs))
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("terminal error = %v, want context.Canceled", err)
	}
}

func TestStream_AllBreakCloses(t *testing.T) {
	path := writeSilence(t, 25)
	sess := &mock.Session{}
	m, _ := newTestMetrics(t)
	tr := New(&mock.Engine{Session: sess}, testConfig(), WithMetrics(m))

	s, err := tr.Stream(context.Background(), path)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	for c, err := range s.All() {
		if err != nil {
			t.Fatalf("All: %v", err)
		}
		if c.ChunkIndex == 0 {
			break
		}
	}
	if _, ok := <-s.Events(); ok {
		t.Error("events still open after breaking out of All")
	}
}

func TestCollect(t *testing.T) {
	path := writeSilence(t, 25)
	cfg := testConfig()
	cfg.Language = "auto"
	sess := &mock.Session{
		Language: "nl",
		FullFunc: func(call int, _ []float32, _ stt.Params) ([]stt.RawSegment, error) {
			return []stt.RawSegment{seg([]string{" een", " twee", " drie"}[call], 50, 150)}, nil
		},
	}
	m, _ := newTestMetrics(t)
	tr := New(&mock.Engine{Session: sess}, cfg, WithMetrics(m))

	s, err := tr.Stream(context.Background(), path)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	res, err := Collect(s)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if res.Text != " een twee drie" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Language != "nl" {
		t.Errorf("Language = %q, want nl", res.Language)
	}
	if res.AudioDuration != 25*time.Second {
		t.Errorf("AudioDuration = %v, want 25s", res.AudioDuration)
	}
	if len(res.Segments) != 3 || res.Segments[2].Start != 20500*time.Millisecond {
		t.Errorf("segments = %+v", res.Segments)
	}
}

func TestCollect_TerminalError(t *testing.T) {
	m, _ := newTestMetrics(t)
	tr := New(&mock.Engine{}, testConfig(), WithMetrics(m))

	s, err := tr.Stream(context.Background(), filepath.Join(t.TempDir(), "nope.wav"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	res, err := Collect(s)
	if !errors.Is(err, types.ErrAudioProcessing) {
		t.Fatalf("err = %v, want AudioProcessing", err)
	}
	if res == nil || res.Text != "" {
		t.Errorf("partial result = %+v", res)
	}
}
