package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Domenick1991/skycheckout/internal/domain"
)

type SessionRepository interface {
	Upsert(ctx context.Context, session *domain.BookingSession) error
	Get(ctx context.Context, id string) (*domain.BookingSession, error)
	UpdateStep(ctx context.Context, id string, step int) error
	UpdateStatus(ctx context.Context, id string, status domain.SessionStatus) error
	ExpireBefore(ctx context.Context, deadline time.Time, limit int) ([]domain.BookingSession, error)
}

type PGSessionRepository struct {
	db *pgxpool.Pool
}

func NewSessionRepository(db *pgxpool.Pool) SessionRepository {
	return &PGSessionRepository{db: db}
}

const sessionColumns = `id, user_id, status, current_step, data, expires_at, seat_lock_expires_at, updated_at, version`

// Upsert stores the whole session document; the indexed columns mirror it.
// A session with a zero Version is inserted, any other one only overwrites
// the row while its version still matches. Losing either race returns
// ErrVersionConflict and the caller reloads.
func (r *PGSessionRepository) Upsert(ctx context.Context, session *domain.BookingSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	args := []any{
		session.SessionID, session.UserID, session.Status, session.CurrentStep, data,
		session.ExpiresAt, nullTime(session.SeatLockExpiresAt),
	}

	var row pgx.Row
	if session.Version == 0 {
		row = r.db.QueryRow(ctx, `INSERT INTO booking_sessions (id, user_id, status, current_step, data, expires_at, seat_lock_expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING
			RETURNING version, updated_at`, args...)
	} else {
		row = r.db.QueryRow(ctx, `UPDATE booking_sessions SET
				user_id = $2,
				status = $3,
				current_step = $4,
				data = $5,
				expires_at = $6,
				seat_lock_expires_at = $7,
				version = version + 1,
				updated_at = now()
			WHERE id = $1 AND version = $8
			RETURNING version, updated_at`, append(args, session.Version)...)
	}
	err = row.Scan(&session.Version, &session.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrVersionConflict
	}
	return err
}

func (r *PGSessionRepository) Get(ctx context.Context, id string) (*domain.BookingSession, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM booking_sessions WHERE id=$1`, id)
	s, err := scanSession(row)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

func (r *PGSessionRepository) UpdateStep(ctx context.Context, id string, step int) error {
	res, err := r.db.Exec(ctx, `UPDATE booking_sessions
		SET current_step=$1, data = jsonb_set(data, '{current_step}', to_jsonb($1::int)),
			version = version + 1, updated_at=now()
		WHERE id=$2`, step, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGSessionRepository) UpdateStatus(ctx context.Context, id string, status domain.SessionStatus) error {
	res, err := r.db.Exec(ctx, `UPDATE booking_sessions SET status=$1, version = version + 1, updated_at=now() WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireBefore marks up to limit active sessions past their deadline as
// expired and returns them.
func (r *PGSessionRepository) ExpireBefore(ctx context.Context, deadline time.Time, limit int) ([]domain.BookingSession, error) {
	rows, err := r.db.Query(ctx, `UPDATE booking_sessions SET status=$1, version = version + 1, updated_at=now()
		WHERE id IN (
			SELECT id FROM booking_sessions
			WHERE status=$2 AND expires_at <= $3
			ORDER BY expires_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+sessionColumns,
		domain.SessionStatusExpired, domain.SessionStatusActive, deadline, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expired []domain.BookingSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, *s)
	}
	return expired, rows.Err()
}

// scanSession decodes the document and lets the columns win, since status and
// step are updated without rewriting data.
func scanSession(row pgx.Row) (*domain.BookingSession, error) {
	var (
		s                    domain.BookingSession
		id, userID           string
		status               domain.SessionStatus
		step                 int
		data                 []byte
		expiresAt, updatedAt time.Time
		seatLockExp          *time.Time
		version              int64
	)
	if err := row.Scan(&id, &userID, &status, &step, &data, &expiresAt, &seatLockExp, &updatedAt, &version); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	s.SessionID = id
	s.UserID = userID
	s.Status = status
	s.CurrentStep = step
	s.ExpiresAt = expiresAt
	s.UpdatedAt = updatedAt
	s.Version = version
	s.SeatLockExpiresAt = time.Time{}
	if seatLockExp != nil {
		s.SeatLockExpiresAt = *seatLockExp
	}
	return &s, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ SessionRepository = (*PGSessionRepository)(nil)
