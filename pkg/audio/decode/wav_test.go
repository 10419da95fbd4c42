package decode

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/gaetschwartz/purr/pkg/audio"
	"github.com/gaetschwartz/purr/pkg/types"
)

// writeWAV encodes interleaved integer samples as a PCM WAV file in a
// temporary directory and returns its path.
func writeWAV(t *testing.T, rate, bits, channels int, data []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, rate, bits, channels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: bits,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return path
}

func openAndDrain(t *testing.T, path string) (*Decoder, []audio.Frame, error) {
	t.Helper()
	d, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	frames, err := drain(t, d)
	return d, frames, err
}

func TestWAV_Stereo16(t *testing.T) {
	const n = 3000
	data := make([]int, n*2)
	for i := range n {
		data[i*2] = i
		data[i*2+1] = -i
	}
	d, frames, err := openAndDrain(t, writeWAV(t, 44100, 16, 2, data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	st := d.Stream()
	if st.Channels != 2 || st.SampleRate != 44100 {
		t.Fatalf("stream = %+v, want 2 channels at 44100 Hz", st)
	}

	total := 0
	for _, f := range frames {
		if f.Format != audio.FormatS16 {
			t.Fatalf("frame format = %v, want s16", f.Format)
		}
		if err := f.Validate(); err != nil {
			t.Fatalf("invalid frame: %v", err)
		}
		total += f.Samples
	}
	if total != n {
		t.Errorf("decoded %d samples, want %d", total, n)
	}
	if len(frames) != 3 {
		t.Errorf("got %d frames, want 3 packets of up to %d frames", len(frames), wavFramesPerPacket)
	}

	// Second frame starts at sample 1024: left = 1024, right = -1024.
	p := frames[1].Planes[0]
	left := int16(binary.LittleEndian.Uint16(p[0:]))
	right := int16(binary.LittleEndian.Uint16(p[2:]))
	if left != 1024 || right != -1024 {
		t.Errorf("first samples of frame 1 = (%d, %d), want (1024, -1024)", left, right)
	}
}

func TestWAV_24BitWidened(t *testing.T) {
	data := []int{0x123456, -2, 0}
	_, frames, err := openAndDrain(t, writeWAV(t, 16000, 24, 1, data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	f := frames[0]
	if f.Format != audio.FormatS32 || f.Samples != 3 {
		t.Fatalf("frame = %v, want 3 s32 samples", f)
	}
	p := f.Planes[0]
	if got := int32(binary.LittleEndian.Uint32(p[0:])); got != 0x12345600 {
		t.Errorf("sample 0 = %#x, want %#x", got, 0x12345600)
	}
	if got := int32(binary.LittleEndian.Uint32(p[4:])); got != -2<<8 {
		t.Errorf("sample 1 = %d, want %d", got, -2<<8)
	}
}

func TestWAV_TruncatedTailSkipped(t *testing.T) {
	const n = 3000
	path := writeWAV(t, 16000, 16, 1, make([]int, n))
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, fi.Size()-1); err != nil {
		t.Fatal(err)
	}

	d, frames, err := openAndDrain(t, path)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(frames) != 2 {
		t.Errorf("got %d frames, want the 2 complete packets", len(frames))
	}
	if d.Skipped() != 1 {
		t.Errorf("Skipped() = %d, want 1", d.Skipped())
	}
}

func TestWAV_HeaderOnlyIsAudioProcessing(t *testing.T) {
	path := writeWAV(t, 16000, 16, 1, []int{1})
	// Drop the single sample so only a misaligned byte remains.
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, fi.Size()-1); err != nil {
		t.Fatal(err)
	}
	_, _, err = openAndDrain(t, path)
	if !errors.Is(err, types.ErrAudioProcessing) {
		t.Fatalf("err = %v, want AudioProcessing", err)
	}
}

func TestWAVSampleFormat(t *testing.T) {
	tests := []struct {
		tag       uint16
		bits      int
		want      audio.SampleFormat
		wantWidth int
		wantErr   bool
	}{
		{wavFormatPCM, 8, audio.FormatU8, 1, false},
		{wavFormatPCM, 16, audio.FormatS16, 2, false},
		{wavFormatExtensible, 24, audio.FormatS32, 3, false},
		{wavFormatPCM, 32, audio.FormatS32, 4, false},
		{wavFormatIEEEFloat, 32, audio.FormatF32, 4, false},
		{wavFormatIEEEFloat, 64, audio.FormatF64, 8, false},
		{wavFormatIEEEFloat, 16, audio.FormatNone, 0, true},
		{0x55, 16, audio.FormatNone, 0, true},
	}
	for _, tt := range tests {
		got, width, err := wavSampleFormat(tt.tag, tt.bits)
		if (err != nil) != tt.wantErr {
			t.Errorf("wavSampleFormat(%#x, %d) err = %v, wantErr %v", tt.tag, tt.bits, err, tt.wantErr)
			continue
		}
		if got != tt.want || width != tt.wantWidth {
			t.Errorf("wavSampleFormat(%#x, %d) = %v/%d, want %v/%d", tt.tag, tt.bits, got, width, tt.want, tt.wantWidth)
		}
	}
}
