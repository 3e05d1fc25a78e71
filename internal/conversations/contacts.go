package conversations

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// UpsertContact stores CRM person fields. Empty incoming values keep the
// stored value so partial person_updated payloads do not erase data.
func (r *Repository) UpsertContact(ctx context.Context, c Contact) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO lead_contacts
		   (organization_id, lead_id, first_name, last_name, email, phone, timezone,
		    assignee_name, assignee_phone, assignee_email, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		 ON CONFLICT (organization_id, lead_id) DO UPDATE SET
		   first_name     = COALESCE(NULLIF(EXCLUDED.first_name, ''), lead_contacts.first_name),
		   last_name      = COALESCE(NULLIF(EXCLUDED.last_name, ''), lead_contacts.last_name),
		   email          = COALESCE(NULLIF(EXCLUDED.email, ''), lead_contacts.email),
		   phone          = COALESCE(NULLIF(EXCLUDED.phone, ''), lead_contacts.phone),
		   timezone       = COALESCE(NULLIF(EXCLUDED.timezone, ''), lead_contacts.timezone),
		   assignee_name  = COALESCE(NULLIF(EXCLUDED.assignee_name, ''), lead_contacts.assignee_name),
		   assignee_phone = COALESCE(NULLIF(EXCLUDED.assignee_phone, ''), lead_contacts.assignee_phone),
		   assignee_email = COALESCE(NULLIF(EXCLUDED.assignee_email, ''), lead_contacts.assignee_email),
		   updated_at     = now()`,
		c.OrganizationID, c.LeadID, c.FirstName, c.LastName, c.Email, c.Phone, c.Timezone,
		c.AssigneeName, c.AssigneePhone, c.AssigneeEmail)
	return err
}

func (r *Repository) GetContact(ctx context.Context, key Key) (Contact, error) {
	c := Contact{OrganizationID: key.OrganizationID, LeadID: key.LeadID}
	err := r.pool.QueryRow(ctx,
		`SELECT first_name, last_name, email, phone, timezone,
		        assignee_name, assignee_phone, assignee_email, updated_at
		 FROM lead_contacts
		 WHERE organization_id = $1 AND lead_id = $2`,
		key.OrganizationID, key.LeadID).Scan(
		&c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.Timezone,
		&c.AssigneeName, &c.AssigneePhone, &c.AssigneeEmail, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	return c, err
}
