package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SeatSelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_seat_selections_total",
		Help: "Seat selection attempts by result",
	}, []string{"result"})
	SeatConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_seat_conflicts_total",
		Help: "Seats rolled back after the backend reported them unavailable",
	})
	SeatLockExpirations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_seat_lock_expirations_total",
		Help: "Session-wide seat lock timers that fired",
	})
	SessionSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_session_saves_total",
		Help: "Session save attempts by result",
	}, []string{"result"})
	BookingsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_bookings_completed_total",
		Help: "Booking completion attempts by result",
	}, []string{"result"})
	SeatLocksAcquired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_seat_locks_total",
		Help: "Server-side seat lock attempts by result",
	}, []string{"result"})
	SessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backend_sessions_expired_total",
		Help: "Sessions expired by the sweep",
	})
)

const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultConflict = "conflict"
	ResultError    = "error"
	ResultSkipped  = "skipped"
)
