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

// BookingRepository stores completed bookings.
type BookingRepository interface {
	Complete(ctx context.Context, booking *domain.CompletedBooking) error
	GetByReference(ctx context.Context, reference string) (*domain.CompletedBooking, error)
	GetBySession(ctx context.Context, sessionID string) (*domain.CompletedBooking, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.CompletedBooking, int, error)
	Cancel(ctx context.Context, reference string, at time.Time) (*domain.CompletedBooking, error)
}

type PGBookingRepository struct {
	db *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) BookingRepository {
	return &PGBookingRepository{db: db}
}

const (
	bookingColumns = `id, booking_reference, session_id, user_id, status, data, confirmed_at, cancelled_at`

	referenceConstraint = "completed_bookings_booking_reference_key"
	sessionConstraint   = "completed_bookings_session_id_key"
)

// Complete inserts the booking, closes its session and marks its seats sold in
// one transaction.
func (r *PGBookingRepository) Complete(ctx context.Context, booking *domain.CompletedBooking) error {
	data, err := json.Marshal(booking)
	if err != nil {
		return fmt.Errorf("encode booking: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	res, err := tx.Exec(ctx, `UPDATE booking_sessions
		SET status=$1, current_step=6, data = jsonb_set(data, '{current_step}', '6'),
			version = version + 1, updated_at=now()
		WHERE id=$2 AND status=$3`,
		domain.SessionStatusCompleted, booking.SessionID, domain.SessionStatusActive)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrAlreadyCompleted
	}

	err = tx.QueryRow(ctx, `INSERT INTO completed_bookings (booking_reference, session_id, user_id, status, total_cents, data, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		booking.BookingReference, booking.SessionID, booking.UserID, booking.Status,
		booking.Pricing.Total, data, booking.ConfirmedAt).
		Scan(&booking.ID)
	switch {
	case isUniqueViolation(err, referenceConstraint):
		return ErrDuplicateReference
	case isUniqueViolation(err, sessionConstraint):
		return ErrAlreadyCompleted
	case err != nil:
		return err
	}

	if booking.Flight != nil {
		if err := setSeatsAvailable(ctx, tx, booking.Flight.ID, domain.SeatIDs(booking.Seats), false); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *PGBookingRepository) GetByReference(ctx context.Context, reference string) (*domain.CompletedBooking, error) {
	b, err := scanBooking(r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM completed_bookings WHERE booking_reference=$1`, reference))
	if err != nil {
		return nil, notFound(err)
	}
	return b, nil
}

func (r *PGBookingRepository) GetBySession(ctx context.Context, sessionID string) (*domain.CompletedBooking, error) {
	b, err := scanBooking(r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM completed_bookings WHERE session_id=$1`, sessionID))
	if err != nil {
		return nil, notFound(err)
	}
	return b, nil
}

// ListByUser pages through a user's bookings, newest first, and returns the
// total count alongside the page.
func (r *PGBookingRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.CompletedBooking, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM completed_bookings WHERE user_id=$1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, `SELECT `+bookingColumns+` FROM completed_bookings
		WHERE user_id=$1 ORDER BY confirmed_at DESC, id DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	bookings := make([]domain.CompletedBooking, 0, limit)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, 0, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, total, rows.Err()
}

// Cancel moves a confirmed booking to cancelled and puts its seats back on sale.
func (r *PGBookingRepository) Cancel(ctx context.Context, reference string, at time.Time) (*domain.CompletedBooking, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	b, err := scanBooking(tx.QueryRow(ctx, `UPDATE completed_bookings SET status=$1, cancelled_at=$2
		WHERE booking_reference=$3 AND status=$4
		RETURNING `+bookingColumns,
		domain.BookingStatusCancelled, at, reference, domain.BookingStatusConfirmed))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM completed_bookings WHERE booking_reference=$1)`, reference).Scan(&exists); err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrNotCancellable
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if b.Flight != nil {
		if err := setSeatsAvailable(ctx, tx, b.Flight.ID, domain.SeatIDs(b.Seats), true); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func scanBooking(row pgx.Row) (*domain.CompletedBooking, error) {
	var (
		b           domain.CompletedBooking
		id          int64
		ref         string
		sessionID   string
		userID      string
		status      domain.BookingStatus
		data        []byte
		confirmedAt time.Time
		cancelledAt *time.Time
	)
	if err := row.Scan(&id, &ref, &sessionID, &userID, &status, &data, &confirmedAt, &cancelledAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode booking %s: %w", ref, err)
	}
	b.ID = id
	b.BookingReference = ref
	b.SessionID = sessionID
	b.UserID = userID
	b.Status = status
	b.ConfirmedAt = confirmedAt
	b.CancelledAt = cancelledAt
	return &b, nil
}

var _ BookingRepository = (*PGBookingRepository)(nil)
