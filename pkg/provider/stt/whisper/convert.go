package whisper

import (
	"math"
	"strings"
)

// floatToPCM16 converts samples in [-1, 1] to 16-bit integer values,
// clamping anything outside that range.
func floatToPCM16(samples []float32) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		out[i] = int(max(-32768, min(32767, v)))
	}
	return out
}

// secondsToCentiseconds rounds a time in seconds to the nearest centisecond.
func secondsToCentiseconds(s float64) int64 {
	return int64(math.Round(s * 100))
}

// isSpecialToken reports whether text is a whisper.cpp control token such as
// "[_BEG_]" or "[_TT_150]".
func isSpecialToken(text string) bool {
	return strings.HasPrefix(text, "[_") && strings.HasSuffix(text, "]")
}
