package flights

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Domenick1991/skycheckout/internal/domain"
	"github.com/Domenick1991/skycheckout/internal/repository"
)

var ErrFlightNotFound = errors.New("flight not found")

type FlightUseCase interface {
	List(ctx context.Context) ([]domain.Flight, error)
	GetByID(ctx context.Context, id string) (*domain.Flight, error)
	SeatMap(ctx context.Context, flightID, sessionID string) ([]domain.Seat, error)
}

type FlightCache interface {
	GetFlights(ctx context.Context) ([]domain.Flight, error)
	SetFlights(ctx context.Context, flights []domain.Flight) error
	GetSeatMap(ctx context.Context, flightID string) ([]domain.Seat, error)
	SetSeatMap(ctx context.Context, flightID string, seats []domain.Seat) error
	SeatLockOwners(ctx context.Context, flightID string, seatIDs []string) (map[string]string, error)
}

type FlightService struct {
	repo   repository.FlightRepository
	cache  FlightCache
	logger *slog.Logger
}

func NewFlightService(repo repository.FlightRepository, cache FlightCache, logger *slog.Logger) *FlightService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlightService{repo: repo, cache: cache, logger: logger}
}

func (s *FlightService) List(ctx context.Context) ([]domain.Flight, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetFlights(ctx); err == nil && cached != nil {
			return cached, nil
		}
	}

	flights, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetFlights(ctx, flights); err != nil {
			s.logger.WarnContext(ctx, "flights cache write failed", slog.String("error", err.Error()))
		}
	}
	return flights, nil
}

func (s *FlightService) GetByID(ctx context.Context, id string) (*domain.Flight, error) {
	f, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrFlightNotFound
	}
	return f, err
}

// SeatMap overlays live seat locks on the stored layout. Seats locked by
// another session are reported unavailable; the caller's own locks are not.
func (s *FlightService) SeatMap(ctx context.Context, flightID, sessionID string) ([]domain.Seat, error) {
	seats, err := s.layout(ctx, flightID)
	if err != nil {
		return nil, err
	}
	if s.cache == nil || len(seats) == 0 {
		return seats, nil
	}

	owners, err := s.cache.SeatLockOwners(ctx, flightID, domain.SeatIDs(seats))
	if err != nil {
		return nil, err
	}
	for i := range seats {
		owner, ok := owners[seats[i].ID]
		if !ok {
			continue
		}
		seats[i].IsLocked = true
		if owner == sessionID && sessionID != "" {
			seats[i].LockOwner = owner
			continue
		}
		seats[i].IsAvailable = false
	}
	return seats, nil
}

func (s *FlightService) layout(ctx context.Context, flightID string) ([]domain.Seat, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetSeatMap(ctx, flightID); err == nil && cached != nil {
			return cached, nil
		}
	}

	if _, err := s.GetByID(ctx, flightID); err != nil {
		return nil, err
	}
	seats, err := s.repo.Seats(ctx, flightID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetSeatMap(ctx, flightID, seats); err != nil {
			s.logger.WarnContext(ctx, "seat map cache write failed",
				slog.String("flight_id", flightID),
				slog.String("error", err.Error()))
		}
	}
	return seats, nil
}

var _ FlightUseCase = (*FlightService)(nil)
