package classifier

import (
	"context"
	"strings"
)

// Rules is a keyword classifier used when no model is configured. It never
// invents qualification values beyond what the keywords imply.
type Rules struct{}

func NewRules() *Rules { return &Rules{} }

var (
	humanPhrases      = []string{"talk to someone", "speak to someone", "real person", "human", "call me", "talk to a person", "speak with someone"}
	schedulingPhrases = []string{"schedule", "appointment", "book a", "tour", "meet", "available on", "tomorrow at"}
	financingPhrases  = []string{"monthly payment", "financing", "mortgage", "loan", "interest rate", "down payment"}
	objectionPhrases  = []string{"too expensive", "not sure", "too much", "can't afford", "cheaper"}
	notInterested     = []string{"not interested", "no thanks", "leave me alone", "already bought"}
)

func (r *Rules) Classify(_ context.Context, req Request) (Decision, error) {
	text := strings.ToLower(req.InboundText)

	switch {
	case containsAny(text, humanPhrases):
		return Decision{Intent: IntentHumanRequest, Escalate: true, Reason: "explicit human request"}, nil
	case containsAny(text, notInterested):
		return Decision{Intent: IntentNotInterested, ReplyText: "Understood, thanks for letting us know. Reach out any time if things change."}, nil
	case containsAny(text, schedulingPhrases):
		return Decision{Intent: IntentScheduling, Escalate: true, Reason: "scheduling intent", ScoreDelta: 10}, nil
	case containsAny(text, objectionPhrases):
		return Decision{Intent: IntentObjection, ReplyText: "That makes sense. What would make this work better for you?"}, nil
	case containsAny(text, financingPhrases):
		return Decision{
			Intent:               IntentQualifying,
			QualificationUpdates: map[string]any{"financing_interest": true},
			ReplyText:            "Happy to help with payment options. What budget range are you working with?",
			ScoreDelta:           5,
		}, nil
	default:
		return Decision{Intent: IntentQualifying, ReplyText: "Thanks! What timeline are you looking at?"}, nil
	}
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
