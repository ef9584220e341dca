package transcribe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"auto-transcriber/internal/domain"
)

// Audio is the 16 kHz mono WAV extracted from a source container.
type Audio struct {
	Path     string
	Duration time.Duration
	tempDir  string
}

// Cleanup removes the temporary workspace holding the audio file.
func (a *Audio) Cleanup() error {
	if a == nil || a.tempDir == "" {
		return nil
	}
	if err := os.RemoveAll(a.tempDir); err != nil {
		return err
	}
	a.tempDir = ""
	return nil
}

// FFmpegExtractor converts media into WAV with ffmpeg and probes its length with ffprobe.
type FFmpegExtractor struct {
	ffmpegPath  string
	ffprobePath string
	runner      commandRunner
	mkdirTemp   func(dir, pattern string) (string, error)
	removeAll   func(path string) error
	stat        func(name string) (os.FileInfo, error)
	OnLog       func(CommandLog)
}

// NewFFmpegExtractor constructs the production extractor with OS dependencies.
func NewFFmpegExtractor(ffmpegPath, ffprobePath string) *FFmpegExtractor {
	return &FFmpegExtractor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      &execRunner{},
		mkdirTemp:   os.MkdirTemp,
		removeAll:   os.RemoveAll,
		stat:        os.Stat,
	}
}

// Extract writes a preprocessed WAV copy of src into a fresh temp directory.
func (x *FFmpegExtractor) Extract(ctx context.Context, src string) (Audio, error) {
	if strings.TrimSpace(src) == "" {
		return Audio{}, &PipelineError{
			Stage:   domain.StageExtracting,
			Kind:    domain.ErrorKindUnreadableSource,
			Message: "input media path is required",
		}
	}
	if _, err := x.stat(src); err != nil {
		return Audio{}, &PipelineError{
			Stage:   domain.StageExtracting,
			Kind:    domain.ErrorKindUnreadableSource,
			Message: fmt.Sprintf("cannot access input media: %s", src),
			Err:     err,
		}
	}

	tempDir, err := x.mkdirTemp("", "auto-transcriber-*")
	if err != nil {
		return Audio{}, &PipelineError{
			Stage:   domain.StageExtracting,
			Kind:    domain.ErrorKindExtractionFailure,
			Message: "failed to create temporary workspace",
			Err:     err,
		}
	}

	outPath := filepath.Join(tempDir, "preprocessed-16k-mono.wav")
	args := buildFFmpegArgs(src, outPath)
	log, runErr := runLogged(ctx, x.runner, x.OnLog, x.ffmpegPath, args...)
	if runErr != nil {
		_ = x.removeAll(tempDir)
		return Audio{}, &PipelineError{
			Stage:      domain.StageExtracting,
			Kind:       kindFor(runErr, domain.ErrorKindExtractionFailure),
			Message:    "ffmpeg audio conversion failed",
			CommandLog: log,
			Err:        runErr,
		}
	}

	if _, err := x.stat(outPath); err != nil {
		_ = x.removeAll(tempDir)
		return Audio{}, &PipelineError{
			Stage:      domain.StageExtracting,
			Kind:       domain.ErrorKindExtractionFailure,
			Message:    "ffmpeg completed but output file is missing",
			CommandLog: log,
			Err:        err,
		}
	}

	return Audio{
		Path:     outPath,
		Duration: x.probeDuration(ctx, outPath),
		tempDir:  tempDir,
	}, nil
}

// Clip cuts the first maxLen of audio into a sibling file for language
// detection. Short inputs are returned unchanged.
func (x *FFmpegExtractor) Clip(ctx context.Context, audio Audio, maxLen time.Duration) (string, error) {
	if audio.Duration > 0 && audio.Duration <= maxLen {
		return audio.Path, nil
	}

	clipPath := strings.TrimSuffix(audio.Path, filepath.Ext(audio.Path)) + "-lid-clip.wav"
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", audio.Path,
		"-t", strconv.Itoa(int(maxLen.Seconds())),
		"-c:a", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		clipPath,
	}
	if _, err := runLogged(ctx, x.runner, x.OnLog, x.ffmpegPath, args...); err != nil {
		return audio.Path, err
	}
	return clipPath, nil
}

// probeDuration asks ffprobe for the container duration. Zero means unknown.
func (x *FFmpegExtractor) probeDuration(ctx context.Context, path string) time.Duration {
	args := []string{
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	}
	res, err := x.runner.Run(ctx, x.ffprobePath, args...)
	if err != nil {
		return 0
	}
	return parseSeconds(res.Stdout)
}

func parseSeconds(raw string) time.Duration {
	secs, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// buildFFmpegArgs builds preprocessing CLI args for mono 16k PCM WAV output.
func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}
