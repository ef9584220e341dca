package transcribe

import (
	"fmt"
	"time"
)

// defaultTurnGap is the pause after which the silence heuristic switches speaker.
const defaultTurnGap = 1500 * time.Millisecond

// AssignSpeakerTurns labels segments from engine turn markers: turnNext[i]
// means the speaker changes after segment i. Two alternating ids are used
// because turn markers carry no identity.
func AssignSpeakerTurns(segments []Segment, turnNext []bool) {
	speaker := 0
	for i := range segments {
		segments[i].Speaker = speakerID(speaker)
		if i < len(turnNext) && turnNext[i] {
			speaker = 1 - speaker
		}
	}
}

// AssignBySilence alternates between two speakers whenever the gap between
// consecutive segments exceeds gap. Segments that already carry a speaker are
// left untouched.
func AssignBySilence(segments []Segment, gap time.Duration) {
	if len(segments) == 0 {
		return
	}
	for _, s := range segments {
		if s.Speaker != "" {
			return
		}
	}

	speaker := 0
	for i := range segments {
		if i > 0 && segments[i].Start-segments[i-1].End > gap {
			speaker = 1 - speaker
		}
		segments[i].Speaker = speakerID(speaker)
	}
}

func speakerID(i int) string {
	return fmt.Sprintf("spk%d", i)
}
