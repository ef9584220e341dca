package transcribe

import (
	"time"

	"github.com/samber/lo"
)

// Segment is one transcribed span attributed to a speaker.
type Segment struct {
	Speaker string        `json:"speaker,omitempty"`
	Start   time.Duration `json:"start"`
	End     time.Duration `json:"end"`
	Text    string        `json:"text"`
}

// Transcript is the engine result for one audio file.
type Transcript struct {
	Segments         []Segment     `json:"segments"`
	DetectedLanguage string        `json:"detectedLanguage"`
	Duration         time.Duration `json:"duration"`
}

// Speakers returns the distinct speaker ids in order of first appearance.
func (t Transcript) Speakers() []string {
	ids := lo.FilterMap(t.Segments, func(s Segment, _ int) (string, bool) {
		return s.Speaker, s.Speaker != ""
	})
	return lo.Uniq(ids)
}
