package transcribe

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gaetschwartz/purr/internal/config"
	"github.com/gaetschwartz/purr/internal/observe"
	"github.com/gaetschwartz/purr/pkg/provider/stt"
	"github.com/gaetschwartz/purr/pkg/types"
)

// Params builds the per-call engine parameters for cfg. A fresh value is
// built for every call so no engine state leaks between chunks.
func Params(cfg config.TranscriptionConfig) stt.Params {
	lang := cfg.Language
	if lang == "auto" {
		lang = ""
	}
	return stt.Params{
		Language:        lang,
		Translate:       cfg.Translate,
		Threads:         cfg.Threads,
		Temperature:     cfg.Temperature,
		InitialPrompt:   cfg.InitialPrompt,
		TokenTimestamps: cfg.Output.WordTimestamps,
	}
}

// Infer runs one engine call over samples and returns its segments with
// times relative to the start of samples.
//
// A failed call is a Transcription error. A segment whose text cannot be
// read is logged and skipped; the remaining segments are still returned.
// Segments with empty or whitespace-only text are kept.
func Infer(ctx context.Context, sess stt.Session, samples []float32, cfg config.TranscriptionConfig) ([]types.Segment, error) {
	if err := sess.Full(ctx, samples, Params(cfg)); err != nil {
		return nil, types.Errorf(types.KindTranscription, "transcribe.Infer", "inference over %d samples: %w", len(samples), err)
	}

	n := sess.SegmentCount()
	segs := make([]types.Segment, 0, n)
	for i := range n {
		text, err := sess.SegmentText(i)
		if err != nil {
			observe.Logger(ctx).Warn("skipping segment with unreadable text", "segment", i, "err", err)
			continue
		}
		t0, t1 := sess.SegmentSpan(i)
		seg := types.Segment{
			Text:  text,
			Start: stt.Centiseconds(t0),
			End:   stt.Centiseconds(t1),
		}
		if cfg.Output.WordTimestamps || cfg.Output.IncludeConfidence {
			applyTokens(&seg, sess.SegmentTokens(i), cfg.Output)
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// applyTokens fills word timings and the mean token probability.
func applyTokens(seg *types.Segment, toks []stt.Token, out config.OutputConfig) {
	if len(toks) == 0 {
		return
	}
	var sum float32
	for _, tok := range toks {
		sum += tok.P
	}
	if out.IncludeConfidence {
		c := sum / float32(len(toks))
		seg.Confidence = &c
	}
	if out.WordTimestamps {
		seg.Words = make([]types.Word, len(toks))
		for i, tok := range toks {
			seg.Words[i] = types.Word{
				Text:        tok.Text,
				Start:       stt.Centiseconds(tok.Start),
				End:         stt.Centiseconds(tok.End),
				Probability: tok.P,
			}
		}
	}
}

// joinText concatenates segment texts. Engines that keep whisper's leading
// space are joined as produced; trimmed texts get a single space between
// them.
func joinText(segs []types.Segment) string {
	var b strings.Builder
	for _, s := range segs {
		appendText(&b, s.Text)
	}
	return b.String()
}

func appendText(b *strings.Builder, text string) {
	if text == "" {
		return
	}
	if b.Len() > 0 && !startsWithSpace(text) && !endsWithSpace(b.String()) {
		b.WriteByte(' ')
	}
	b.WriteString(text)
}

func startsWithSpace(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsSpace(r)
}

func endsWithSpace(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return unicode.IsSpace(r)
}
