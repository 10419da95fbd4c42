package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gaetschwartz/purr/internal/config"
	"github.com/gaetschwartz/purr/pkg/types"
)

// Times are reported in seconds.

type wordJSON struct {
	Text        string  `json:"text"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float32 `json:"probability"`
}

type segmentJSON struct {
	Text       string     `json:"text"`
	Start      *float64   `json:"start,omitempty"`
	End        *float64   `json:"end,omitempty"`
	Confidence *float32   `json:"confidence,omitempty"`
	Words      []wordJSON `json:"words,omitempty"`
}

type resultJSON struct {
	Text           string        `json:"text"`
	Language       string        `json:"language,omitempty"`
	Segments       []segmentJSON `json:"segments"`
	ProcessingTime float64       `json:"processing_time"`
	AudioDuration  float64       `json:"audio_duration"`
}

type statsJSON struct {
	ProcessingTime   float64 `json:"processing_time"`
	AudioDuration    float64 `json:"audio_duration"`
	RealTimeFactor   float64 `json:"real_time_factor"`
	SegmentCount     int     `json:"segment_count"`
	AvgSegmentLength float64 `json:"avg_segment_length"`
	WordCount        int     `json:"word_count"`
	WordsPerMinute   float64 `json:"words_per_minute"`
}

// chunkJSON and errorJSON are the two WebSocket message types,
// distinguished by Type.
type chunkJSON struct {
	Type     string        `json:"type"`
	Index    int           `json:"index"`
	Text     string        `json:"text"`
	Start    float64       `json:"start"`
	End      float64       `json:"end"`
	IsFinal  bool          `json:"is_final"`
	Segments []segmentJSON `json:"segments"`
	Stats    *statsJSON    `json:"stats,omitempty"`
}

type errorJSON struct {
	Type    string `json:"type,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func newSegments(segs []types.Segment, out config.OutputConfig) []segmentJSON {
	res := make([]segmentJSON, len(segs))
	for i, s := range segs {
		js := segmentJSON{Text: s.Text}
		if out.IncludeTimestamps {
			start, end := s.Start.Seconds(), s.End.Seconds()
			js.Start, js.End = &start, &end
		}
		if out.IncludeConfidence {
			js.Confidence = s.Confidence
		}
		if out.WordTimestamps {
			for _, w := range s.Words {
				js.Words = append(js.Words, wordJSON{
					Text:        w.Text,
					Start:       w.Start.Seconds(),
					End:         w.End.Seconds(),
					Probability: w.Probability,
				})
			}
		}
		res[i] = js
	}
	return res
}

func newResult(r *types.Result, out config.OutputConfig) resultJSON {
	return resultJSON{
		Text:           r.Text,
		Language:       r.Language,
		Segments:       newSegments(r.Segments, out),
		ProcessingTime: r.ProcessingTime.Seconds(),
		AudioDuration:  r.AudioDuration.Seconds(),
	}
}

func newChunk(c types.StreamingChunk, out config.OutputConfig) chunkJSON {
	js := chunkJSON{
		Type:     "chunk",
		Index:    c.ChunkIndex,
		Text:     c.Text,
		Start:    c.Start.Seconds(),
		End:      c.End.Seconds(),
		IsFinal:  c.IsFinal,
		Segments: newSegments(c.Segments, out),
	}
	if st := c.FinalStats; st != nil {
		js.Stats = &statsJSON{
			ProcessingTime:   st.ProcessingTime.Seconds(),
			AudioDuration:    st.AudioDuration.Seconds(),
			RealTimeFactor:   st.RealTimeFactor,
			SegmentCount:     st.SegmentCount,
			AvgSegmentLength: st.AvgSegmentLength.Seconds(),
			WordCount:        st.WordCount,
			WordsPerMinute:   st.WordsPerMinute,
		}
	}
	return js
}

func newError(err error) errorJSON {
	return errorJSON{Kind: types.KindOf(err).String(), Message: err.Error()}
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrAudioProcessing), errors.Is(err, types.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrConfiguration):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response", "err", err)
	}
}
