package session

import (
	"fmt"
	"strings"

	"github.com/fluentvoice/lesson-gateway/internal/lesson"
	"github.com/fluentvoice/lesson-gateway/internal/store"
)

// baseProtocol is the tutor persona and teaching contract sent to every
// session. Behavioral rules and lesson context are appended after it.
const baseProtocol = `You are a warm, patient voice language tutor. Hold a natural spoken
conversation: short turns, one question at a time, no lecturing. Prefer
recasting over naming mistakes: repeat the student's phrase in corrected form
and move on. Keep the student speaking most of the time.`

const onboardingProtocol = `This is the student's very first lesson. Get acquainted: learn their name,
how they want to be addressed, how they rate their own level, and why they
are learning. Collect this naturally across the conversation, then store it
by invoking the ` + lesson.ProfileToolName + ` tool. Invoke the tool silently.
Never speak, spell out, or otherwise vocalize the stored values or any
structured data marker.`

// instructionInput feeds one instruction build.
type instructionInput struct {
	student      *store.Student
	lesson       *store.Lesson
	rules        []store.Rule
	lastRecap    string
	pauseSummary string
	resuming     bool
	languageMode string
}

// buildInstructions assembles the one-time configuration text: base protocol,
// level rules, active rules by priority, last-lesson recap, and resume
// context when applicable.
func buildInstructions(in instructionInput) string {
	var sb strings.Builder
	sb.WriteString(baseProtocol)

	if in.languageMode != "" {
		fmt.Fprintf(&sb, "\n\nLesson language mode: %s.", in.languageMode)
	}

	if in.lesson.IsFirstLesson {
		sb.WriteString("\n\n")
		sb.WriteString(onboardingProtocol)
	} else if in.student != nil {
		fmt.Fprintf(&sb, "\n\nStudent: %s", displayName(in.student))
		if in.student.SelfRatedLevel != "" {
			fmt.Fprintf(&sb, ", self-rated level: %s", in.student.SelfRatedLevel)
		}
		if in.student.Goals != "" {
			fmt.Fprintf(&sb, ". Their goal: %s", in.student.Goals)
		}
		sb.WriteString(".")
	}

	if in.lesson.PlacementLevel != "" {
		fmt.Fprintf(&sb, "\nTarget the %s level: adjust vocabulary and pace accordingly.", in.lesson.PlacementLevel)
	}

	if len(in.rules) > 0 {
		sb.WriteString("\n\nStanding rules, in priority order; all remain in force for the whole lesson:")
		for _, r := range in.rules {
			fmt.Fprintf(&sb, "\n- %s", r.Value)
		}
	}

	if in.lastRecap != "" {
		fmt.Fprintf(&sb, "\n\nPrevious lesson recap: %s", in.lastRecap)
	}

	if in.resuming {
		sb.WriteString("\n\nYou are resuming an interrupted lesson. Do not restart the lesson and do not greet the student as if meeting anew.")
		if in.pauseSummary != "" {
			fmt.Fprintf(&sb, " Before the pause: %s", in.pauseSummary)
		}
	}

	return sb.String()
}

func displayName(s *store.Student) string {
	if s.PreferredName != "" {
		return s.PreferredName
	}
	if s.Name != "" {
		return s.Name
	}
	return "(name unknown)"
}
