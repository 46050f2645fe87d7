// Package profile provides read-only access to users and their trusted
// representatives. Profile mutation lives in the account service; the
// dispatch subsystem only reads.
package profile

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUserNotFound indicates the user does not exist.
var ErrUserNotFound = errors.New("user not found")

// Representative is a trusted contact, ordered by priority (lower is
// contacted first).
type Representative struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	Phone             string    `json:"phone"`
	Email             string    `json:"email,omitempty"`
	Relationship      string    `json:"relationship,omitempty"`
	Priority          int       `json:"priority"`
	NotifyEmergency   bool      `json:"notify_emergency"`
	NotifyAccess      bool      `json:"notify_access"`
	DonorSpokesperson bool      `json:"donor_spokesperson"`
}

// User is a platform user together with their representative list, already
// sorted by priority ascending.
type User struct {
	ID              uuid.UUID
	Name            string
	Locale          string
	Representatives []*Representative
}

// EmergencyRepresentatives returns the representatives flagged for emergency
// notification, preserving priority order.
func (u *User) EmergencyRepresentatives() []*Representative {
	var out []*Representative
	for _, r := range u.Representatives {
		if r.NotifyEmergency {
			out = append(out, r)
		}
	}
	return out
}

// AccessRepresentatives returns the representatives flagged for QR-access
// notification, preserving priority order.
func (u *User) AccessRepresentatives() []*Representative {
	var out []*Representative
	for _, r := range u.Representatives {
		if r.NotifyAccess {
			out = append(out, r)
		}
	}
	return out
}

// Store is the profile collaborator consumed by the dispatch subsystem.
type Store interface {
	GetUserWithRepresentatives(ctx context.Context, userID uuid.UUID) (*User, error)
	GetConditions(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// PGStore reads profiles from Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a Postgres-backed profile store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// GetUserWithRepresentatives loads a user and their representatives.
func (s *PGStore) GetUserWithRepresentatives(ctx context.Context, userID uuid.UUID) (*User, error) {
	user := &User{ID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT name, COALESCE(preferred_locale, 'es-MX') FROM users WHERE id = $1`,
		userID,
	).Scan(&user.Name, &user.Locale)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, phone, COALESCE(email, ''), COALESCE(relationship, ''),
		       priority, notify_emergency, notify_access, donor_spokesperson
		FROM representatives
		WHERE user_id = $1
		ORDER BY priority ASC, name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("load representatives: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r := &Representative{}
		if err := rows.Scan(&r.ID, &r.Name, &r.Phone, &r.Email, &r.Relationship,
			&r.Priority, &r.NotifyEmergency, &r.NotifyAccess, &r.DonorSpokesperson); err != nil {
			return nil, fmt.Errorf("scan representative: %w", err)
		}
		user.Representatives = append(user.Representatives, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The query already orders by priority; keep the invariant explicit for
	// any future store that forgets.
	sort.SliceStable(user.Representatives, func(i, j int) bool {
		return user.Representatives[i].Priority < user.Representatives[j].Priority
	})

	return user, nil
}

// GetConditions returns the user's known condition list, used to bias
// facility relevance.
func (s *PGStore) GetConditions(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT condition FROM user_conditions WHERE user_id = $1 ORDER BY condition`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("load conditions: %w", err)
	}
	defer rows.Close()

	var conditions []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		conditions = append(conditions, c)
	}
	return conditions, rows.Err()
}

var _ Store = (*PGStore)(nil)
