// Package classifier is the decision function the conversation engine consults
// for intent, qualification data, escalation and the reply text.
package classifier

import (
	"context"
	"strings"

	"engagement_backend/internal/conversations"
)

// Intent is the classified purpose of an inbound lead message.
type Intent string

const (
	IntentQualifying    Intent = "qualifying"
	IntentObjection     Intent = "objection"
	IntentScheduling    Intent = "scheduling"
	IntentNotInterested Intent = "not_interested"
	IntentHumanRequest  Intent = "human_request"
	IntentOther         Intent = "other"
)

// ParseIntent maps unknown values to IntentOther.
func ParseIntent(raw string) Intent {
	switch i := Intent(strings.ToLower(strings.TrimSpace(raw))); i {
	case IntentQualifying, IntentObjection, IntentScheduling, IntentNotInterested, IntentHumanRequest:
		return i
	default:
		return IntentOther
	}
}

// Request is the context handed to the decision function.
type Request struct {
	Conversation conversations.Conversation
	Contact      conversations.Contact
	InboundText  string
}

// Decision is what the decision function returns for one inbound message.
type Decision struct {
	Intent               Intent
	QualificationUpdates map[string]any
	Escalate             bool
	Reason               string
	ReplyText            string
	ScoreDelta           int
}

type Classifier interface {
	Classify(ctx context.Context, req Request) (Decision, error)
}
