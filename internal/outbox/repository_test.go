package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInsertParamsValidate(t *testing.T) {
	valid := InsertParams{OrganizationID: "org", LeadID: "lead", Kind: "escalation.fallback", RunAt: time.Now()}
	assert.NoError(t, valid.Validate())

	missingKind := valid
	missingKind.Kind = ""
	assert.Error(t, missingKind.Validate())

	missingLead := valid
	missingLead.LeadID = ""
	assert.Error(t, missingLead.Validate())

	missingRunAt := valid
	missingRunAt.RunAt = time.Time{}
	assert.Error(t, missingRunAt.Validate())
}

func TestNilRepositoryReportsNotConfigured(t *testing.T) {
	var r *Repository
	_, err := r.DispatchPending(t.Context(), 10, func(context.Context, Record) error { return nil })
	assert.EqualError(t, err, errRepoNotConfigured)
}
