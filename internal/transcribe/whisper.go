package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"auto-transcriber/internal/domain"
)

// languageSampleLength bounds the audio used for language detection.
const languageSampleLength = 60 * time.Second

// WhisperEngine runs whisper.cpp and parses its JSON output into segments.
type WhisperEngine struct {
	whisperPath string
	modelPath   string
	language    string
	runner      commandRunner
	stat        func(name string) (os.FileInfo, error)
	readDir     func(name string) ([]os.DirEntry, error)
	readFile    func(name string) ([]byte, error)
	removeFile  func(name string) error
	OnLog       func(CommandLog)
}

// NewWhisperEngine constructs the production engine with OS dependencies.
// language is the configured override; "auto" lets detection decide.
func NewWhisperEngine(whisperPath, modelPath, language string) *WhisperEngine {
	return &WhisperEngine{
		whisperPath: whisperPath,
		modelPath:   modelPath,
		language:    language,
		runner:      &execRunner{},
		stat:        os.Stat,
		readDir:     os.ReadDir,
		readFile:    os.ReadFile,
		removeFile:  os.Remove,
	}
}

// whisperOutput mirrors the subset of whisper.cpp's -oj document we read.
type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text            string `json:"text"`
		SpeakerTurnNext bool   `json:"speaker_turn_next"`
	} `json:"transcription"`
}

// Transcribe runs the engine over audioPath. hint steers the language flag
// when the configured language is "auto".
func (w *WhisperEngine) Transcribe(ctx context.Context, audioPath string, hint domain.Language) (Transcript, error) {
	out, err := w.run(ctx, audioPath, engineLanguage(w.language, hint), "-transcript", domain.StageTranscribing)
	if err != nil {
		return Transcript{}, err
	}

	tr := Transcript{DetectedLanguage: out.Result.Language}
	turns := false
	for _, seg := range out.Transcription {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		tr.Segments = append(tr.Segments, Segment{
			Start: time.Duration(seg.Offsets.From) * time.Millisecond,
			End:   time.Duration(seg.Offsets.To) * time.Millisecond,
			Text:  text,
		})
		if seg.SpeakerTurnNext {
			turns = true
		}
	}
	if len(tr.Segments) == 0 {
		return Transcript{}, &PipelineError{
			Stage:   domain.StageTranscribing,
			Kind:    domain.ErrorKindEngineFailure,
			Message: "whisper.cpp returned no transcript segments",
		}
	}

	if turns {
		flags := make([]bool, 0, len(tr.Segments))
		for _, seg := range out.Transcription {
			if strings.TrimSpace(seg.Text) != "" {
				flags = append(flags, seg.SpeakerTurnNext)
			}
		}
		AssignSpeakerTurns(tr.Segments, flags)
	} else {
		AssignBySilence(tr.Segments, defaultTurnGap)
	}

	if last := tr.Segments[len(tr.Segments)-1]; last.End > tr.Duration {
		tr.Duration = last.End
	}
	return tr, nil
}

// Detect transcribes the leading minute of audio with auto language detection
// and classifies the result.
func (w *WhisperEngine) Detect(ctx context.Context, samplePath string) (domain.Language, error) {
	out, err := w.run(ctx, samplePath, "", "-lid", domain.StageDetectingLanguage)
	if err != nil {
		return domain.LanguageUnknown, err
	}

	var sample strings.Builder
	for _, seg := range out.Transcription {
		sample.WriteString(seg.Text)
		sample.WriteString(" ")
	}
	return ClassifyLanguage(out.Result.Language, sample.String()), nil
}

func (w *WhisperEngine) run(ctx context.Context, audioPath, language, suffix string, stage domain.Stage) (whisperOutput, error) {
	modelPath, err := w.resolveModelPath(w.modelPath)
	if err != nil {
		return whisperOutput{}, &PipelineError{
			Stage:   stage,
			Kind:    domain.ErrorKindEngineFailure,
			Message: err.Error(),
			Err:     err,
		}
	}

	base := strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + suffix
	args := buildWhisperArgs(modelPath, audioPath, base, language, isDiarizationModel(modelPath))
	log, runErr := runLogged(ctx, w.runner, w.OnLog, w.whisperPath, args...)
	if runErr != nil {
		return whisperOutput{}, &PipelineError{
			Stage:      stage,
			Kind:       kindFor(runErr, domain.ErrorKindEngineFailure),
			Message:    "whisper.cpp transcription failed",
			CommandLog: log,
			Err:        runErr,
		}
	}

	jsonPath := base + ".json"
	data, err := w.readFile(jsonPath)
	if err != nil {
		return whisperOutput{}, &PipelineError{
			Stage:      stage,
			Kind:       domain.ErrorKindEngineFailure,
			Message:    "whisper.cpp completed but transcript .json file is missing",
			CommandLog: log,
			Err:        err,
		}
	}
	_ = w.removeFile(jsonPath)

	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return whisperOutput{}, &PipelineError{
			Stage:      stage,
			Kind:       domain.ErrorKindEngineFailure,
			Message:    "whisper.cpp produced malformed JSON",
			CommandLog: log,
			Err:        err,
		}
	}
	return out, nil
}

// resolveModelPath returns model file path from file or directory input.
func (w *WhisperEngine) resolveModelPath(rawPath string) (string, error) {
	modelPath := strings.TrimSpace(rawPath)
	if modelPath == "" {
		return "", fmt.Errorf("model path is required")
	}

	info, err := w.stat(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot access model path: %s", modelPath)
	}
	if !info.IsDir() {
		return modelPath, nil
	}

	entries, err := w.readDir(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot read model directory: %s", modelPath)
	}

	modelNames := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			modelNames = append(modelNames, entry.Name())
		}
	}
	if len(modelNames) == 0 {
		return "", fmt.Errorf("no .bin or .gguf model files found in: %s", modelPath)
	}

	sort.Strings(modelNames)
	return filepath.Join(modelPath, modelNames[0]), nil
}

// isDiarizationModel reports whether the model supports tinydiarize speaker turns.
func isDiarizationModel(modelPath string) bool {
	return strings.Contains(strings.ToLower(filepath.Base(modelPath)), "tdrz")
}

// buildWhisperArgs builds whisper.cpp args for JSON transcript export.
func buildWhisperArgs(modelPath, audioPath, outBase, language string, diarize bool) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-oj",
	}

	if language != "" {
		args = append(args, "-l", language)
	} else {
		args = append(args, "-l", "auto")
	}
	if diarize {
		args = append(args, "-tdrz")
	}

	return args
}
