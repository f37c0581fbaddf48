package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	domain "github.com/waypoint-immigration/portal/internal/domain"
)

// CaseRepository stores cases in the cases table.
type CaseRepository struct {
	db *sqlx.DB
}

type caseRow struct {
	ID            string `db:"id"`
	ClientID      string `db:"client_id"`
	ServiceName   string `db:"service_name"`
	AccessGranted bool   `db:"access_granted"`
	FormData      string `db:"form_data"`
	CurrentStep   int    `db:"current_step"`
	CreatedAt     string `db:"created_at"`
	UpdatedAt     string `db:"updated_at"`
}

func (r caseRow) toDomain() (domain.Case, error) {
	c := domain.Case{
		ID:            r.ID,
		ClientID:      r.ClientID,
		ServiceName:   r.ServiceName,
		AccessGranted: r.AccessGranted,
		CurrentStep:   r.CurrentStep,
		CreatedAt:     parseTime(r.CreatedAt),
		UpdatedAt:     parseTime(r.UpdatedAt),
	}
	if r.FormData != "" {
		if err := json.Unmarshal([]byte(r.FormData), &c.FormData); err != nil {
			return domain.Case{}, fmt.Errorf("unmarshaling form_data for case %s: %w", r.ID, err)
		}
	}
	return c, nil
}

// FindByID loads a case.
func (r *CaseRepository) FindByID(ctx context.Context, caseID string) (domain.Case, error) {
	var row caseRow
	if err := r.db.GetContext(ctx, &row, "SELECT * FROM cases WHERE id = ?", caseID); err != nil {
		return domain.Case{}, wrapError("cases.get", err)
	}
	return row.toDomain()
}

// GrantAccess sets access_granted. Repeating the call is a no-op.
func (r *CaseRepository) GrantAccess(ctx context.Context, caseID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE cases SET access_granted = 1, updated_at = ? WHERE id = ?",
		formatTime(at), caseID,
	)
	if err != nil {
		return wrapError("cases.grant_access", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound("cases.grant_access", caseID)
	}
	return nil
}

// Save inserts or replaces a case. Case intake lives outside this service, so it is only used
// to seed local databases and tests.
func (r *CaseRepository) Save(ctx context.Context, c domain.Case) error {
	formData := c.FormData
	if formData == nil {
		formData = map[string]any{}
	}
	raw, err := json.Marshal(formData)
	if err != nil {
		return fmt.Errorf("marshaling form_data for case %s: %w", c.ID, err)
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO cases (
			id, client_id, service_name, access_granted, form_data, current_step, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ClientID, c.ServiceName, c.AccessGranted, string(raw), c.CurrentStep,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	return wrapError("cases.save", err)
}
