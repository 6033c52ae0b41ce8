package checkout

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Domenick1991/skycheckout/internal/domain"
)

const (
	StepFlightSelection = 1
	StepSeatSelection   = 2
	StepExtras          = 3
	StepPassengers      = 4
	StepPayment         = 5
	StepConfirmation    = 6
)

var stepNames = map[int]string{
	StepFlightSelection: "flight selection",
	StepSeatSelection:   "seat selection",
	StepExtras:          "extras",
	StepPassengers:      "passenger details",
	StepPayment:         "payment",
	StepConfirmation:    "confirmation",
}

func StepName(step int) string {
	if name, ok := stepNames[step]; ok {
		return name
	}
	return fmt.Sprintf("step %d", step)
}

func (c *Checkout) CurrentStep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.CurrentStep
}

// IsStepComplete reports whether the predicate for step holds.
func (c *Checkout) IsStepComplete(step int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stepCompleteLocked(step)
}

func (c *Checkout) stepCompleteLocked(step int) bool {
	s := &c.session
	switch step {
	case StepFlightSelection:
		return s.SelectedFlight != nil
	case StepSeatSelection:
		return len(s.Passengers) > 0 && len(s.SelectedSeats) == len(s.Passengers)
	case StepExtras:
		return true
	case StepPassengers:
		if len(s.Passengers) == 0 {
			return false
		}
		for _, p := range s.Passengers {
			if !p.Complete() {
				return false
			}
		}
		return true
	case StepPayment:
		return s.PaymentInfo.ShapeValid()
	case StepConfirmation:
		return true
	}
	return false
}

// CanProceed reports whether NextStep would be accepted.
func (c *Checkout) CanProceed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.session.CurrentStep
	return cur < StepPayment && c.checkForwardLocked(cur, cur+1) == nil
}

// StepProgress is the share of steps already passed, in percent.
func (c *Checkout) StepProgress() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return (c.session.CurrentStep - 1) * 100 / (StepConfirmation - 1)
}

func (c *Checkout) NextStep(ctx context.Context) error {
	return c.SetStep(ctx, c.CurrentStep()+1)
}

func (c *Checkout) PreviousStep(ctx context.Context) error {
	cur := c.CurrentStep()
	if cur <= StepFlightSelection {
		return nil
	}
	return c.SetStep(ctx, cur-1)
}

// SetStep moves to step. Forward moves need every step in between to be
// complete; backward moves are always allowed. Confirmation is only reached
// through CompleteBooking. The new step is then saved; a failed save is
// reported but does not undo the move.
func (c *Checkout) SetStep(ctx context.Context, step int) error {
	const op = "SetStep"
	if step < StepFlightSelection || step > StepConfirmation {
		return domain.NewValidationError(op, fmt.Sprintf("unknown step %d", step))
	}
	if step == StepConfirmation {
		return domain.NewValidationError(op, "confirmation is reached by completing the booking")
	}

	c.mu.Lock()
	cur := c.session.CurrentStep
	if cur == StepConfirmation {
		c.mu.Unlock()
		return domain.NewValidationError(op, "booking is already completed")
	}
	if step == cur {
		c.mu.Unlock()
		return nil
	}
	if step > cur {
		if err := c.checkForwardLocked(cur, step); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	c.session.CurrentStep = step
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "checkout step changed",
		slog.Int("from", cur),
		slog.Int("to", step))
	c.autosave(ctx)
	return nil
}

func (c *Checkout) checkForwardLocked(from, to int) error {
	for s := from; s < to; s++ {
		if !c.stepCompleteLocked(s) {
			return domain.NewValidationError("SetStep", fmt.Sprintf("complete %s first", StepName(s)))
		}
	}
	if to >= StepPayment && from < StepPayment && c.priceDrift {
		return &domain.Error{
			Kind:    domain.KindPriceDrift,
			Op:      "SetStep",
			Message: "prices have changed, review the updated total before payment",
			Action:  &domain.Action{Label: "Accept new price", Operation: "acknowledge_price_update"},
		}
	}
	return nil
}

// autosave persists a step change. When the backend already holds every other
// change the cheaper step patch is used.
func (c *Checkout) autosave(ctx context.Context) {
	c.mu.Lock()
	id := c.session.SessionID
	step := c.session.CurrentStep
	patch := c.persisted && id != "" && !c.dirtyLocked()
	c.mu.Unlock()

	var err error
	if patch {
		if err = c.backend.UpdateStep(ctx, id, step); err != nil {
			err = backendError("UpdateStep", err, retryAction("save_session", map[string]string{
				"session_id": id,
				"step":       fmt.Sprint(step),
			}))
		}
	} else {
		err = c.SaveSession(ctx, false)
	}
	if err == nil {
		return
	}

	c.logger.WarnContext(ctx, "autosave failed",
		slog.String("session_id", id),
		slog.Int("step", step),
		slog.String("error", err.Error()))
	c.publish(ctx, c.errorNotification(domain.NotificationSaveError, "Could not save your progress", err))
}
