package sqlite

import (
	"context"

	"github.com/jmoiron/sqlx"

	domain "github.com/waypoint-immigration/portal/internal/domain"
)

// ProfileRepository is the SQLite staff and client directory.
type ProfileRepository struct {
	db *sqlx.DB
}

type profileRow struct {
	ID       string `db:"id"`
	FullName string `db:"full_name"`
	Email    string `db:"email"`
	Role     string `db:"role"`
	Locale   string `db:"locale"`
}

func (r profileRow) toDomain() domain.Profile {
	return domain.Profile(r)
}

func (r *ProfileRepository) FindByID(ctx context.Context, profileID string) (domain.Profile, error) {
	var row profileRow
	if err := r.db.GetContext(ctx, &row, "SELECT * FROM profiles WHERE id = ?", profileID); err != nil {
		return domain.Profile{}, wrapError("profiles.get", err)
	}
	return row.toDomain(), nil
}

// FindByRole returns every profile holding role, ordered by id for stable fan-out.
func (r *ProfileRepository) FindByRole(ctx context.Context, role string) ([]domain.Profile, error) {
	var rows []profileRow
	if err := r.db.SelectContext(ctx, &rows, "SELECT * FROM profiles WHERE role = ? ORDER BY id", role); err != nil {
		return nil, wrapError("profiles.find_by_role", err)
	}
	profiles := make([]domain.Profile, 0, len(rows))
	for _, row := range rows {
		profiles = append(profiles, row.toDomain())
	}
	return profiles, nil
}

// Save inserts or replaces a profile.
func (r *ProfileRepository) Save(ctx context.Context, p domain.Profile) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO profiles (id, full_name, email, role, locale) VALUES (?, ?, ?, ?, ?)",
		p.ID, p.FullName, p.Email, p.Role, p.Locale,
	)
	return wrapError("profiles.save", err)
}
