// Package escalation keeps handed-off leads from being silently abandoned.
// Each handoff episode schedules a fallback check and a reactivation check;
// both re-read the conversation when they fire and act only if the episode is
// still open and no human has replied.
package escalation

import (
	"time"

	"engagement_backend/internal/conversations"
	"engagement_backend/internal/outbox"
)

const (
	KindFallback   = "escalation.fallback"
	KindReactivate = "escalation.reactivate"
)

// CheckPayload identifies the handoff episode a check belongs to.
type CheckPayload struct {
	OrganizationID string    `json:"organizationId"`
	LeadID         string    `json:"leadId"`
	EpisodeAt      time.Time `json:"episodeAt"`
}

func (p CheckPayload) Key() conversations.Key {
	return conversations.Key{OrganizationID: p.OrganizationID, LeadID: p.LeadID}
}

// Plan returns the two outbox rows for a handoff episode anchored at episode.
func Plan(key conversations.Key, episode time.Time, fallbackDelay, reactivationDelay time.Duration) []outbox.InsertParams {
	payload := CheckPayload{OrganizationID: key.OrganizationID, LeadID: key.LeadID, EpisodeAt: episode}
	return []outbox.InsertParams{
		{
			OrganizationID: key.OrganizationID,
			LeadID:         key.LeadID,
			Kind:           KindFallback,
			Payload:        payload,
			RunAt:          episode.Add(fallbackDelay),
		},
		{
			OrganizationID: key.OrganizationID,
			LeadID:         key.LeadID,
			Kind:           KindReactivate,
			Payload:        payload,
			RunAt:          episode.Add(reactivationDelay),
		},
	}
}
