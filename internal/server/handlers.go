package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/gaetschwartz/purr/internal/observe"
)

type batchRequest struct {
	Path string `json:"path"`
}

var errNoAudio = errors.New("request names no audio: send {\"path\": ...} or a multipart \"file\"")

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	path, cleanup, err := s.audioPath(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorJSON{Kind: "request", Message: err.Error()})
		return
	}
	defer cleanup()

	tr, done := s.acquire()
	defer done()
	res, err := tr.Batch(r.Context(), path)
	if err != nil {
		observe.Logger(r.Context()).Warn("batch transcription failed", "path", path, "err", err)
		writeJSON(w, statusFor(err), newError(err))
		return
	}
	writeJSON(w, http.StatusOK, newResult(res, tr.Config().Output))
}

// audioPath returns the file to transcribe for r: either the path named in a
// JSON body or an uploaded file spooled to disk. cleanup removes any spooled
// file.
func (s *Server) audioPath(w http.ResponseWriter, r *http.Request) (path string, cleanup func(), err error) {
	cleanup = func() {}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "multipart/form-data" {
		var req batchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return "", cleanup, fmt.Errorf("decode request: %w", err)
		}
		if req.Path == "" {
			return "", cleanup, errNoAudio
		}
		return req.Path, cleanup, nil
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", cleanup, errNoAudio
		}
		return "", cleanup, fmt.Errorf("read upload: %w", err)
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "purr-upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		return "", cleanup, fmt.Errorf("spool upload: %w", err)
	}
	cleanup = func() { _ = os.Remove(tmp.Name()) }
	_, err = io.Copy(tmp, file)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("spool upload: %w", err)
	}
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
	return tmp.Name(), cleanup, nil
}

// handleStream upgrades to a WebSocket and sends one "chunk" message per
// transcribed chunk. A failure is sent as a single "error" message. The
// connection is closed normally in both cases; a client that disconnects
// cancels the transcription.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorJSON{Kind: "request", Message: "missing path query parameter"})
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	log := observe.Logger(ctx).With("path", path)

	tr, done := s.acquire()
	defer done()
	out := tr.Config().Output
	st, err := tr.Stream(ctx, path)
	if err != nil {
		sendError(r.Context(), conn, err)
		return
	}
	defer st.Close()

	for c, err := range st.All() {
		if err != nil {
			if ctx.Err() != nil {
				log.Debug("stream client went away", "err", err)
				return
			}
			log.Warn("stream transcription failed", "err", err)
			sendError(r.Context(), conn, err)
			return
		}
		if err := wsjson.Write(ctx, conn, newChunk(c, out)); err != nil {
			log.Debug("writing chunk", "chunk", c.ChunkIndex, "err", err)
			return
		}
	}
	conn.Close(websocket.StatusNormalClosure, "done")
}

func sendError(ctx context.Context, conn *websocket.Conn, err error) {
	msg := newError(err)
	msg.Type = "error"
	if werr := wsjson.Write(ctx, conn, msg); werr != nil {
		observe.Logger(ctx).Debug("writing stream error", "err", werr)
		return
	}
	conn.Close(websocket.StatusNormalClosure, "failed")
}
