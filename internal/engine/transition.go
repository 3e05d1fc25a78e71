package engine

import (
	"engagement_backend/internal/classifier"
	"engagement_backend/internal/conversations"
)

// Action is the side effect the engine performs after a transition.
type Action string

const (
	ActionNone     Action = "none"
	ActionReply    Action = "reply"
	ActionHandoff  Action = "handoff"
	ActionOpener   Action = "opener"
	ActionComplete Action = "complete"
)

const pointsPerField = 15

// scoredFields are the qualification fields that raise the lead score when known.
var scoredFields = []string{"budget", "timeline", "location", "financing_interest", "motivation"}

// Transition is the engine's policy for one classified lead message. It never
// leaves HANDED_OFF or COMPLETED; those exits belong to the escalation checks
// and to explicit close signals. The score hands off only on the message that
// carries it from below threshold to at or above it, so a reactivated lead
// that already crossed stays with the agent.
func Transition(current conversations.State, d classifier.Decision, prevScore, score, threshold int) (conversations.State, Action) {
	switch current {
	case conversations.StateCompleted, conversations.StateHandedOff:
		return current, ActionNone
	}

	if d.Escalate || d.Intent == classifier.IntentHumanRequest || crossed(prevScore, score, threshold) {
		return conversations.StateHandedOff, ActionHandoff
	}

	target := intentState(d.Intent)
	if !conversations.CanTransition(current, target) {
		if conversations.CanTransition(current, conversations.StateQualifying) {
			target = conversations.StateQualifying
		} else {
			target = current
		}
	}

	if d.ReplyText == "" {
		return target, ActionNone
	}
	return target, ActionReply
}

func crossed(prevScore, score, threshold int) bool {
	return threshold > 0 && prevScore < threshold && score >= threshold
}

func intentState(intent classifier.Intent) conversations.State {
	switch intent {
	case classifier.IntentObjection:
		return conversations.StateObjectionHandling
	case classifier.IntentScheduling:
		return conversations.StateScheduling
	case classifier.IntentNotInterested:
		return conversations.StateNurture
	default:
		return conversations.StateQualifying
	}
}

// Score recomputes the lead score from known qualification fields, never
// lowering it below the current value before applying delta.
func Score(data map[string]any, current, delta int) int {
	known := 0
	for _, field := range scoredFields {
		if isKnown(data[field]) {
			known++
		}
	}
	return min(max(max(current, known*pointsPerField)+delta, 0), 100)
}

func isKnown(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case bool:
		return val
	default:
		return true
	}
}
