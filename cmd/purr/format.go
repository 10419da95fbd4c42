package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gaetschwartz/purr/internal/config"
	"github.com/gaetschwartz/purr/pkg/types"
)

// stamp formats d as HH:MM:SS.mmm.
func stamp(d time.Duration) string {
	d = d.Round(time.Millisecond)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, d/time.Millisecond)
}

// writeSegments prints one line per segment, prefixed with its time span
// when timestamps are enabled.
func writeSegments(w io.Writer, segs []types.Segment, out config.OutputConfig) {
	for _, s := range segs {
		text := strings.TrimSpace(s.Text)
		if out.IncludeTimestamps {
			fmt.Fprintf(w, "[%s --> %s] ", stamp(s.Start), stamp(s.End))
		}
		fmt.Fprint(w, text)
		if out.IncludeConfidence && s.Confidence != nil {
			fmt.Fprintf(w, " (%.2f)", *s.Confidence)
		}
		fmt.Fprintln(w)
		if out.WordTimestamps {
			for _, wd := range s.Words {
				fmt.Fprintf(w, "    %s  %s  %.2f\n", stamp(wd.Start), strings.TrimSpace(wd.Text), wd.Probability)
			}
		}
	}
}

func writeStats(w io.Writer, st *types.Stats) {
	fmt.Fprintf(w, "audio %s, processed in %s (%.1fx real time), %d segments, %d words, %.0f wpm\n",
		st.AudioDuration.Round(time.Millisecond),
		st.ProcessingTime.Round(time.Millisecond),
		st.RealTimeFactor,
		st.SegmentCount,
		st.WordCount,
		st.WordsPerMinute,
	)
}
