package email

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Domenick1991/skycheckout/internal/domain"
)

// Sender renders notifications as plain-text mail. Delivery is a write to out;
// there is no SMTP transport yet.
type Sender struct {
	out    io.Writer
	from   string
	logger *slog.Logger
}

func NewSender(from string, logger *slog.Logger) *Sender {
	return newSender(os.Stdout, from, logger)
}

func newSender(out io.Writer, from string, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	if from == "" {
		from = "no-reply@skycheckout.local"
	}
	return &Sender{out: out, from: from, logger: logger}
}

// Send mails notifications that have a recipient. Transient ones such as
// network errors stay in the client and are skipped.
func (s *Sender) Send(ctx context.Context, n domain.Notification) error {
	if n.Recipient == "" || !Mailable(n.Type) {
		s.logger.DebugContext(ctx, "notification not mailed",
			slog.String("type", string(n.Type)),
			slog.String("session_id", n.SessionID))
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\n", s.from)
	fmt.Fprintf(&b, "To: %s\n", n.Recipient)
	fmt.Fprintf(&b, "Subject: %s\n\n", n.Title)
	b.WriteString(n.Message)
	b.WriteString("\n")
	if ref, ok := n.Metadata["booking_reference"]; ok {
		fmt.Fprintf(&b, "\nBooking reference: %v\n", ref)
	}
	b.WriteString("\n")

	if _, err := io.WriteString(s.out, b.String()); err != nil {
		return fmt.Errorf("send %s to %s: %w", n.Type, n.Recipient, err)
	}
	s.logger.InfoContext(ctx, "notification mailed",
		slog.String("type", string(n.Type)),
		slog.String("recipient", n.Recipient))
	return nil
}

func Mailable(t domain.NotificationType) bool {
	switch t {
	case domain.NotificationBookingConfirmed,
		domain.NotificationBookingCancelled,
		domain.NotificationLoyaltyPoints,
		domain.NotificationSeatsExpired:
		return true
	}
	return false
}
