package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/gaetschwartz/purr/internal/config"
	"github.com/gaetschwartz/purr/pkg/types"
)

func TestStamp(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00.000"},
		{1500 * time.Millisecond, "00:00:01.500"},
		{time.Hour + 2*time.Minute + 3*time.Second + 40*time.Millisecond, "01:02:03.040"},
	}
	for _, tt := range tests {
		if got := stamp(tt.in); got != tt.want {
			t.Errorf("stamp(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteSegments(t *testing.T) {
	conf := float32(0.5)
	segs := []types.Segment{{
		Text:       " hello there",
		Start:      time.Second,
		End:        2 * time.Second,
		Confidence: &conf,
		Words:      []types.Word{{Text: " hello", Start: time.Second, Probability: 0.9}},
	}}

	tests := []struct {
		name string
		out  config.OutputConfig
		want string
	}{
		{"plain", config.OutputConfig{}, "hello there\n"},
		{"timestamps", config.OutputConfig{IncludeTimestamps: true}, "[00:00:01.000 --> 00:00:02.000] hello there\n"},
		{"confidence", config.OutputConfig{IncludeConfidence: true}, "hello there (0.50)\n"},
		{"words", config.OutputConfig{WordTimestamps: true}, "hello there\n    00:00:01.000  hello  0.90\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			writeSegments(&buf, segs, tt.out)
			if got := buf.String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	f := &flags{language: "de", threads: 2, model: "/models/ggml-small.bin", words: true}
	cfg, err := loadConfig(f)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	tc := cfg.Transcription
	if tc.Language != "de" || tc.Threads != 2 || tc.ModelPath != "/models/ggml-small.bin" || !tc.Output.WordTimestamps {
		t.Errorf("overrides not applied: %+v", tc)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	f := &flags{configPath: "/nonexistent/purr.yaml"}
	if _, err := loadConfig(f); err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestLoadConfig_InvalidOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	f := &flags{language: "EN"}
	if _, err := loadConfig(f); err == nil {
		t.Fatal("expected validation error for upper-case language")
	}
}
