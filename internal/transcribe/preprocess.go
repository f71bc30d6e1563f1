package transcribe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

var (
	ffmpegOnce      sync.Once
	ffmpegAvailable bool
)

// CheckFFmpeg reports whether ffmpeg is in PATH. The lookup runs once.
func CheckFFmpeg() bool {
	ffmpegOnce.Do(func() {
		_, err := exec.LookPath("ffmpeg")
		ffmpegAvailable = err == nil
	})
	return ffmpegAvailable
}

// Preprocess extracts the audio track of an uploaded container into a
// 16kHz mono WAV with loudness normalisation, which is what Whisper models
// are trained on and keeps video uploads small on the wire.
//
// Returns the path to a temporary WAV file and a cleanup function.
// If ffmpeg is unavailable, returns the original path with a no-op cleanup.
func Preprocess(ctx context.Context, inputPath string) (string, func(), error) {
	noop := func() {}

	if !CheckFFmpeg() {
		return inputPath, noop, nil
	}

	tmp, err := os.CreateTemp("", "captioner-audio-*.wav")
	if err != nil {
		return inputPath, noop, fmt.Errorf("create temp: %w", err)
	}
	outPath := tmp.Name()
	tmp.Close()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", inputPath,
		"-vn",
		"-ac", "1", "-ar", "16000",
		"-af", "loudnorm",
		"-f", "wav",
		outPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(outPath)
		return inputPath, noop, fmt.Errorf("ffmpeg preprocess: %w: %s", err, truncate(out, 256))
	}

	cleanup := func() {
		os.Remove(outPath)
	}
	return outPath, cleanup, nil
}
