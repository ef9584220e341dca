package transcribe

import (
	"context"
	"os"
	"regexp"
	"strings"

	"auto-transcriber/internal/domain"
)

var (
	reCJK        = regexp.MustCompile(`[\p{Han}]`)
	reLatinWord  = regexp.MustCompile(`[A-Za-z]{2,}`)
	reEngineTags = regexp.MustCompile(`<\|[^|]+\|>|\[[^\]]*\]`)
)

// ClassifyLanguage maps an engine language code plus sample text onto the
// pipeline's language set. Text containing both Han characters and Latin
// words is treated as mixed Chinese/English.
func ClassifyLanguage(code, sample string) domain.Language {
	text := reEngineTags.ReplaceAllString(sample, "")
	if reCJK.MatchString(text) && reLatinWord.MatchString(text) {
		return domain.LanguageMixed
	}

	switch strings.ToLower(strings.TrimSpace(code)) {
	case "zh", "yue", "chinese", "cantonese":
		return domain.LanguageChinese
	case "en", "english":
		return domain.LanguageEnglish
	}

	if reCJK.MatchString(text) {
		return domain.LanguageChinese
	}
	return domain.LanguageUnknown
}

// engineLanguage turns a configured language and detection hint into the
// value passed to the engine's language flag. Empty means auto-detect.
func engineLanguage(configured string, hint domain.Language) string {
	lang := strings.TrimSpace(configured)
	if lang != "" && !strings.EqualFold(lang, "auto") {
		return lang
	}
	switch hint {
	case domain.LanguageChinese:
		return "zh"
	case domain.LanguageEnglish:
		return "en"
	default:
		return ""
	}
}

// Detector classifies the spoken language from the leading sample of audio.
type Detector struct {
	Extractor *FFmpegExtractor
	Engine    *WhisperEngine
}

// Detect clips the audio and runs engine language identification on the clip.
// The clip is removed afterwards; the source audio is left in place.
func (d *Detector) Detect(ctx context.Context, audio Audio) (domain.Language, error) {
	clip, err := d.Extractor.Clip(ctx, audio, languageSampleLength)
	if err != nil {
		return domain.LanguageUnknown, err
	}
	if clip != audio.Path {
		defer os.Remove(clip)
	}
	return d.Engine.Detect(ctx, clip)
}
