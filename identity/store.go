package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/PaulFidika/accesskit/entitlements"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store reads profiles and course purchases from the profiles schema.
type Store struct {
	pg     *pgxpool.Pool
	schema string
}

func NewStore(pg *pgxpool.Pool, schema string) *Store {
	s := strings.TrimSpace(schema)
	if s == "" {
		s = "profiles"
	}
	return &Store{pg: pg, schema: s}
}

func (s *Store) usersTable() string     { return s.schema + ".users" }
func (s *Store) purchasesTable() string { return s.schema + ".course_purchases" }

type User struct {
	ID       uuid.UUID
	Email    string
	Username *string
	Language string
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	if s.pg == nil || id == uuid.Nil {
		return nil, nil
	}
	var u User
	err := s.pg.QueryRow(ctx, `SELECT id, email, username, language FROM `+s.usersTable()+` WHERE id=$1 LIMIT 1`, id).
		Scan(&u.ID, &u.Email, &u.Username, &u.Language)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// PurchasedCourses returns the user's course grants, including revoked and expired
// ones; ProfileSnapshot decides which are active.
func (s *Store) PurchasedCourses(ctx context.Context, userID uuid.UUID) ([]entitlements.Entitlement, error) {
	if s.pg == nil || userID == uuid.Nil {
		return nil, nil
	}
	rows, err := s.pg.Query(ctx, `SELECT course_id, source, expires_at, revoked_at FROM `+s.purchasesTable()+` WHERE user_id=$1 ORDER BY granted_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []entitlements.Entitlement
	for rows.Next() {
		var (
			e         entitlements.Entitlement
			expiresAt *time.Time
			revokedAt *time.Time
		)
		if err := rows.Scan(&e.Name, &e.Source, &expiresAt, &revokedAt); err != nil {
			return nil, err
		}
		e.ExpiresAt, e.RevokedAt = expiresAt, revokedAt
		out = append(out, e)
	}
	return out, rows.Err()
}

// LoadSnapshot builds a ProfileSnapshot for userID. It satisfies Loader.
func (s *Store) LoadSnapshot(ctx context.Context, userID uuid.UUID) (entitlements.ProfileSnapshot, error) {
	u, err := s.GetByID(ctx, userID)
	if err != nil {
		return entitlements.ProfileSnapshot{}, err
	}
	grants, err := s.PurchasedCourses(ctx, userID)
	if err != nil {
		return entitlements.ProfileSnapshot{}, err
	}
	fields := map[string]string{}
	if u != nil {
		fields["email"] = u.Email
		fields["language"] = u.Language
		if u.Username != nil {
			fields["username"] = *u.Username
		}
	}
	return entitlements.NewProfileSnapshot(userID.String(), grants, fields, time.Now()), nil
}
