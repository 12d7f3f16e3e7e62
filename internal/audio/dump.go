package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DumpWAV writes PCM samples to a timestamped WAV file in dir. Used by the
// audio.dump_dir debug option to keep closed utterances for recognizer
// debugging.
func DumpWAV(dir string, samples []int16, sampleRate int) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create dump dir: %w", err)
	}
	name := fmt.Sprintf("utterance_%s.wav", time.Now().Format("20060102_150405.000"))
	path := filepath.Join(dir, name)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create wav file: %w", err)
	}
	defer file.Close()

	buffer := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:   make([]int, len(samples)),
	}
	for i, s := range samples {
		buffer.Data[i] = int(s)
	}

	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return "", fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("close wav encoder: %w", err)
	}
	return path, nil
}
