// Package whisper provides whisper.cpp speech-to-text engines.
//
// Native runs the model in-process through the CGO bindings. Server talks to
// a running whisper-server binary over its REST API (POST /inference) and is
// useful when the model lives on another host or a GPU box. Both implement
// stt.Engine and report segment times in centiseconds.
//
// Usage:
//
//	eng, err := whisper.NewServer("http://localhost:8080")
//	sess, err := eng.NewSession(ctx)
//	err = sess.Full(ctx, samples, stt.Params{Language: "en"})
//	for i := range sess.SegmentCount() {
//	    text, err := sess.SegmentText(i)
//	    ...
//	}
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/gaetschwartz/purr/pkg/provider/stt"
)

const (
	// bitsPerSample is fixed at 16 for the PCM uploaded to whisper-server.
	bitsPerSample = 16

	wavFormatPCM = 1

	defaultTimeout = 5 * time.Minute
)

var (
	_ stt.Engine  = (*Server)(nil)
	_ stt.Session = (*serverSession)(nil)
)

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) { s.httpClient = c }
}

// WithTimeout bounds a single inference request. Defaults to five minutes.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// Server implements stt.Engine against a whisper.cpp HTTP server. It holds
// no model state of its own, so sessions are cheap and may be used from
// different goroutines concurrently.
type Server struct {
	serverURL  string
	httpClient *http.Client
	timeout    time.Duration
}

// NewServer creates a Server for the whisper.cpp server at serverURL (e.g.
// "http://localhost:8080").
func NewServer(serverURL string, opts ...Option) (*Server, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	s := &Server{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{},
		timeout:    defaultTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// NewSession returns a session that posts each Full call to the server.
func (s *Server) NewSession(ctx context.Context) (stt.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	return &serverSession{server: s}, nil
}

// Close is a no-op; the remote server owns the model.
func (s *Server) Close() error { return nil }

type serverSession struct {
	stt.Results
	server *Server
}

// verboseResponse is the subset of whisper-server's verbose_json output we
// read. Times are in seconds.
type verboseResponse struct {
	Language         string `json:"language"`
	DetectedLanguage string `json:"detected_language"`
	Segments         []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Words []struct {
			Word        string  `json:"word"`
			Start       float64 `json:"start"`
			End         float64 `json:"end"`
			Probability float32 `json:"probability"`
		} `json:"words"`
	} `json:"segments"`
}

func (s *serverSession) Full(ctx context.Context, samples []float32, p stt.Params) error {
	s.Reset(nil, "")
	if s.server.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.server.timeout)
		defer cancel()
	}

	body, contentType, err := inferenceForm(samples, p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.server.serverURL+"/inference", body)
	if err != nil {
		return fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.server.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("whisper: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var vr verboseResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	segs := make([]stt.RawSegment, 0, len(vr.Segments))
	for _, seg := range vr.Segments {
		raw := stt.RawSegment{
			Text:  seg.Text,
			Start: secondsToCentiseconds(seg.Start),
			End:   secondsToCentiseconds(seg.End),
		}
		for _, w := range seg.Words {
			raw.Tokens = append(raw.Tokens, stt.Token{
				Text:  w.Word,
				P:     w.Probability,
				Start: secondsToCentiseconds(w.Start),
				End:   secondsToCentiseconds(w.End),
			})
		}
		segs = append(segs, raw)
	}

	lang := vr.DetectedLanguage
	if lang == "" {
		lang = vr.Language
	}
	if lang == "" {
		lang = p.Language
	}
	s.Reset(segs, lang)
	return nil
}

func (s *serverSession) Close() error {
	s.Reset(nil, "")
	return nil
}

// inferenceForm builds the multipart body for POST /inference.
func inferenceForm(samples []float32, p stt.Params) (io.Reader, string, error) {
	audio, err := encodeWAV(samples)
	if err != nil {
		return nil, "", err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	lang := p.Language
	if lang == "" {
		lang = "auto"
	}
	fields := [][2]string{
		{"response_format", "verbose_json"},
		{"language", lang},
		{"temperature", strconv.FormatFloat(float64(p.Temperature), 'f', -1, 32)},
		{"translate", strconv.FormatBool(p.Translate)},
	}
	if p.InitialPrompt != "" {
		fields = append(fields, [2]string{"prompt", p.InitialPrompt})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}

// encodeWAV renders mono 16 kHz samples as a 16-bit PCM WAV file. The
// encoder needs a seekable writer to patch chunk sizes, so the file is
// staged on disk.
func encodeWAV(samples []float32) ([]byte, error) {
	f, err := os.CreateTemp("", "purr-*.wav")
	if err != nil {
		return nil, fmt.Errorf("whisper: stage wav: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	enc := wav.NewEncoder(f, stt.SampleRate, bitsPerSample, 1, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: stt.SampleRate},
		Data:           floatToPCM16(samples),
		SourceBitDepth: bitsPerSample,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("whisper: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("whisper: finalize wav: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("whisper: rewind wav: %w", err)
	}
	return io.ReadAll(f)
}
