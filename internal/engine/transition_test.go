package engine

import (
	"testing"

	"engagement_backend/internal/classifier"
	"engagement_backend/internal/conversations"

	"github.com/stretchr/testify/assert"
)

func TestTransition(t *testing.T) {
	cases := map[string]struct {
		current    conversations.State
		decision   classifier.Decision
		prevScore  int
		score      int
		wantState  conversations.State
		wantAction Action
	}{
		"first message qualifies": {
			current: conversations.StateInitial, decision: classifier.Decision{Intent: classifier.IntentQualifying, ReplyText: "x"},
			wantState: conversations.StateQualifying, wantAction: ActionReply,
		},
		"objection from initial falls back to qualifying": {
			current: conversations.StateInitial, decision: classifier.Decision{Intent: classifier.IntentObjection, ReplyText: "x"},
			wantState: conversations.StateQualifying, wantAction: ActionReply,
		},
		"objection handling": {
			current: conversations.StateQualifying, decision: classifier.Decision{Intent: classifier.IntentObjection, ReplyText: "x"},
			wantState: conversations.StateObjectionHandling, wantAction: ActionReply,
		},
		"not interested nurtures": {
			current: conversations.StateQualifying, decision: classifier.Decision{Intent: classifier.IntentNotInterested},
			wantState: conversations.StateNurture, wantAction: ActionNone,
		},
		"nurture re-engages": {
			current: conversations.StateNurture, decision: classifier.Decision{Intent: classifier.IntentScheduling, ReplyText: "x"},
			wantState: conversations.StateQualifying, wantAction: ActionReply,
		},
		"explicit escalation": {
			current: conversations.StateScheduling, decision: classifier.Decision{Escalate: true},
			wantState: conversations.StateHandedOff, wantAction: ActionHandoff,
		},
		"score threshold": {
			current: conversations.StateQualifying, decision: classifier.Decision{Intent: classifier.IntentQualifying}, score: 80,
			wantState: conversations.StateHandedOff, wantAction: ActionHandoff,
		},
		"score already past threshold does not hand off again": {
			current: conversations.StateQualifying, decision: classifier.Decision{Intent: classifier.IntentQualifying, ReplyText: "x"},
			prevScore: 80, score: 80,
			wantState: conversations.StateQualifying, wantAction: ActionReply,
		},
		"score below threshold": {
			current: conversations.StateQualifying, decision: classifier.Decision{Intent: classifier.IntentQualifying}, prevScore: 30, score: 79,
			wantState: conversations.StateQualifying, wantAction: ActionNone,
		},
		"explicit escalation above threshold still hands off": {
			current: conversations.StateQualifying, decision: classifier.Decision{Escalate: true}, prevScore: 90, score: 90,
			wantState: conversations.StateHandedOff, wantAction: ActionHandoff,
		},
		"handed off stays": {
			current: conversations.StateHandedOff, decision: classifier.Decision{Escalate: true, ReplyText: "x"},
			wantState: conversations.StateHandedOff, wantAction: ActionNone,
		},
		"completed is terminal": {
			current: conversations.StateCompleted, decision: classifier.Decision{Intent: classifier.IntentQualifying, ReplyText: "x"},
			wantState: conversations.StateCompleted, wantAction: ActionNone,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			state, action := Transition(tc.current, tc.decision, tc.prevScore, tc.score, 80)
			assert.Equal(t, tc.wantState, state)
			assert.Equal(t, tc.wantAction, action)
		})
	}
}

func TestScore(t *testing.T) {
	data := map[string]any{"budget": "400k", "timeline": "", "financing_interest": false, "location": "Austin"}
	assert.Equal(t, 30, Score(data, 0, 0))
	assert.Equal(t, 40, Score(data, 40, 0))
	assert.Equal(t, 100, Score(data, 95, 20))
	assert.Equal(t, 0, Score(nil, 0, -10))
}
