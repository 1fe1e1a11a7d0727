package client

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// writeTestWav пишет минимальный валидный PCM WAV: моно, 8 кГц, 16 бит,
// несколько сэмплов.
func writeTestWav(t *testing.T, path string) {
	t.Helper()

	samples := []int16{0, 8192, 16384, 8192, 0, -8192, -16384, -8192}
	dataSize := uint32(len(samples) * 2)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36)+dataSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // моно
	binary.Write(&buf, binary.LittleEndian, uint32(8000))
	binary.Write(&buf, binary.LittleEndian, uint32(16000))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	binary.Write(&buf, binary.LittleEndian, samples)

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
}

func TestBufferCueDecodesWav(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signon.wav")
	writeTestWav(t, path)

	buf, format, err := bufferCue(path, 0)
	if err != nil {
		t.Fatalf("bufferCue: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("expected buffered samples, got empty buffer")
	}
	if format.SampleRate != 8000 {
		t.Fatalf("expected sample rate 8000, got %d", format.SampleRate)
	}
}

func TestBufferCueRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signon.ogg")
	if err := os.WriteFile(path, []byte("not audio"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, _, err := bufferCue(path, 0); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}

// Файл сигнала должен закрываться сразу после буферизации, иначе дескрипторы
// копятся на все время жизни процесса.
func TestBufferCueClosesFile(t *testing.T) {
	if _, err := os.ReadDir("/proc/self/fd"); err != nil {
		t.Skip("/proc/self/fd недоступен")
	}

	path := filepath.Join(t.TempDir(), "receive.wav")
	writeTestWav(t, path)

	countFDs := func() int {
		entries, err := os.ReadDir("/proc/self/fd")
		if err != nil {
			t.Fatalf("read /proc/self/fd: %v", err)
		}
		return len(entries)
	}

	before := countFDs()
	for i := 0; i < 10; i++ {
		if _, _, err := bufferCue(path, 0); err != nil {
			t.Fatalf("bufferCue: %v", err)
		}
	}
	after := countFDs()
	if after > before {
		t.Fatalf("descriptors leaked: %d before, %d after", before, after)
	}
}
