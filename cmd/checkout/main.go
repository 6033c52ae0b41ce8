// Command checkout inspects and drives a booking session from the terminal.
//
// Usage:
//
//	checkout [flags] status|validate|extend|cancel
//	checkout [flags] history
//	checkout [flags] booking <ref> [cancel]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Domenick1991/skycheckout/config"
	"github.com/Domenick1991/skycheckout/internal/checkout"
	"github.com/Domenick1991/skycheckout/internal/domain"
	"github.com/Domenick1991/skycheckout/internal/kafka"
	"github.com/Domenick1991/skycheckout/internal/resume"
	"github.com/Domenick1991/skycheckout/internal/sessionapi"
	"github.com/Domenick1991/skycheckout/pkg/logger"
)

var errUsage = errors.New("usage: checkout [flags] status|validate|extend|cancel|history|booking <ref> [cancel]")

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "checkout:", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	session    string
	baseURL    string
	token      string
	resumeFile string
	limit      int
	offset     int
}

func parseFlags(args []string, out io.Writer) (options, []string, error) {
	var o options
	fs := flag.NewFlagSet("checkout", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&o.configPath, "config", os.Getenv("CONFIG_PATH"), "config file; environment only when empty")
	fs.StringVar(&o.session, "session", "", "session id or a link carrying ?session=")
	fs.StringVar(&o.baseURL, "url", "", "session API base URL")
	fs.StringVar(&o.token, "token", "", "bearer token")
	fs.StringVar(&o.resumeFile, "resume", "", "resume file")
	fs.IntVar(&o.limit, "limit", 10, "history page size")
	fs.IntVar(&o.offset, "offset", 0, "history offset")
	if err := fs.Parse(args); err != nil {
		return o, nil, err
	}
	return o, fs.Args(), nil
}

func loadConfig(o options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadConfig(o.configPath)
	} else {
		cfg, err = config.LoadEnv()
	}
	if err != nil {
		return nil, err
	}
	if o.baseURL != "" {
		cfg.Backend.BaseURL = o.baseURL
	}
	if o.token != "" {
		cfg.Backend.Token = o.token
	}
	if o.resumeFile != "" {
		cfg.Backend.ResumeFile = o.resumeFile
	}
	if cfg.Backend.BaseURL == "" {
		return nil, errors.New("session API URL is not set (backend.base_url or SESSION_API_URL)")
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	o, rest, err := parseFlags(args, out)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return errUsage
	}
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}

	log := logger.NewWithLevel(cfg.Log.Level)
	store, err := resume.Open(cfg.Backend.ResumeFile)
	if err != nil {
		return err
	}
	defer store.Close()

	notifier, closeNotifier := newNotifier(cfg, log.Logger)
	defer closeNotifier()

	engine := checkout.New(
		checkout.Config{SeatLockTTL: cfg.Checkout.SeatLockTTL, SessionTTL: cfg.Checkout.SessionTTL},
		checkout.Deps{
			Backend: sessionapi.New(sessionapi.Config{
				BaseURL: cfg.Backend.BaseURL,
				Timeout: cfg.Backend.Timeout,
				Token:   cfg.Backend.Token,
			}, log.Logger),
			Notifier: notifier,
			Resume:   store,
			Logger:   log.Logger,
		},
	)
	cli := &cli{engine: engine, out: out, session: o.session}

	switch cmd := rest[0]; cmd {
	case "status":
		return cli.status(ctx)
	case "validate":
		return cli.validate(ctx)
	case "extend":
		return cli.extend(ctx)
	case "cancel":
		return cli.cancel(ctx)
	case "history":
		return cli.history(ctx, o.limit, o.offset)
	case "booking":
		if len(rest) < 2 {
			return errUsage
		}
		if len(rest) > 2 && rest[2] == "cancel" {
			return cli.cancelBooking(ctx, rest[1])
		}
		return cli.booking(ctx, rest[1])
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

// newNotifier publishes engine notifications to Kafka when brokers are
// configured and logs them otherwise.
func newNotifier(cfg *config.Config, log *slog.Logger) (checkout.Notifier, func()) {
	if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.NotificationsTopic == "" {
		return logNotifier{log: log}, func() {}
	}
	producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
	return kafka.NewNotifier(producer, cfg.Kafka.NotificationsTopic), func() { _ = producer.Close() }
}

type logNotifier struct {
	log *slog.Logger
}

func (n logNotifier) Publish(ctx context.Context, note domain.Notification) error {
	n.log.InfoContext(ctx, note.Title,
		slog.String("type", string(note.Type)),
		slog.String("message", note.Message))
	return nil
}

type cli struct {
	engine  *checkout.Checkout
	out     io.Writer
	session string
}

func (c *cli) load(ctx context.Context) error {
	return c.engine.LoadSession(ctx, c.session)
}

func (c *cli) status(ctx context.Context) error {
	if err := c.load(ctx); err != nil {
		return err
	}
	s := c.engine.Session()
	fmt.Fprintf(c.out, "session   %s (%s)\n", s.SessionID, s.Status)
	fmt.Fprintf(c.out, "step      %d/%d %s (%d%%)\n", s.CurrentStep, checkout.StepConfirmation, checkout.StepName(s.CurrentStep), c.engine.StepProgress())
	if f := s.SelectedFlight; f != nil {
		fmt.Fprintf(c.out, "flight    %s %s → %s %s\n", f.FlightNumber, f.FromAirport, f.ToAirport, money(f.PriceCents))
	}
	if len(s.SelectedSeats) > 0 {
		fmt.Fprintf(c.out, "seats     %s\n", strings.Join(domain.SeatIDs(s.SelectedSeats), ", "))
		if at := c.engine.SeatLockExpiresAt(); !at.IsZero() {
			fmt.Fprintf(c.out, "held til  %s\n", at.Format(time.RFC3339))
		}
	}
	if !s.ExpiresAt.IsZero() {
		fmt.Fprintf(c.out, "expires   %s\n", s.ExpiresAt.Format(time.RFC3339))
	}
	writePricing(c.out, c.engine.Pricing())
	return nil
}

func (c *cli) validate(ctx context.Context) error {
	if err := c.load(ctx); err != nil {
		return err
	}
	err := c.engine.ValidateCurrentSession(ctx)
	switch domain.KindOf(err) {
	case domain.KindPriceDrift, domain.KindSeatsExpired:
		fmt.Fprintln(c.out, "prices changed:")
		writePricing(c.out, c.engine.Pricing())
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, "pricing is up to date")
	writePricing(c.out, c.engine.Pricing())
	return nil
}

func (c *cli) extend(ctx context.Context) error {
	if err := c.load(ctx); err != nil {
		return err
	}
	if err := c.engine.ExtendSession(ctx); err != nil {
		return err
	}
	s := c.engine.Session()
	fmt.Fprintf(c.out, "session %s extended until %s\n", s.SessionID, s.ExpiresAt.Format(time.RFC3339))
	return nil
}

func (c *cli) cancel(ctx context.Context) error {
	if err := c.load(ctx); err != nil {
		return err
	}
	id := c.engine.SessionID()
	c.engine.ClearSession(ctx)
	fmt.Fprintf(c.out, "session %s cancelled\n", id)
	return nil
}

func (c *cli) history(ctx context.Context, limit, offset int) error {
	page, err := c.engine.BookingHistory(ctx, limit, offset)
	if err != nil {
		return err
	}
	if len(page.Bookings) == 0 {
		fmt.Fprintln(c.out, "no bookings")
		return nil
	}
	for _, b := range page.Bookings {
		writeBookingLine(c.out, b)
	}
	fmt.Fprintf(c.out, "%d-%d of %d\n", page.Offset+1, page.Offset+len(page.Bookings), page.Total)
	return nil
}

func (c *cli) booking(ctx context.Context, ref string) error {
	b, err := c.engine.GetBooking(ctx, ref)
	if err != nil {
		return err
	}
	writeBookingLine(c.out, b)
	for _, t := range b.Tickets {
		fmt.Fprintf(c.out, "  ticket %s seat %s\n", t.TicketNumber, t.SeatNumber)
	}
	return nil
}

func (c *cli) cancelBooking(ctx context.Context, ref string) error {
	b, err := c.engine.CancelBooking(ctx, ref)
	if err != nil {
		return err
	}
	writeBookingLine(c.out, b)
	return nil
}

func writeBookingLine(w io.Writer, b domain.CompletedBooking) {
	flight := "-"
	if b.Flight != nil {
		flight = b.Flight.ID
		if b.Flight.FlightNumber != "" {
			flight = b.Flight.FlightNumber
		}
	}
	fmt.Fprintf(w, "%s  %-9s  %-8s  %s  %s\n",
		b.BookingReference, b.Status, flight, money(b.Pricing.Total), b.ConfirmedAt.Format("2006-01-02"))
}

func writePricing(w io.Writer, p domain.FareBreakdown) {
	fmt.Fprintf(w, "base      %s\n", money(p.BaseFare))
	fmt.Fprintf(w, "seats     %s\n", money(p.SeatsTotal))
	fmt.Fprintf(w, "extras    %s\n", money(p.ExtrasTotal))
	fmt.Fprintf(w, "taxes     %s\n", money(p.TaxesAndFees))
	if p.Discount > 0 {
		fmt.Fprintf(w, "discount -%s\n", money(p.Discount))
	}
	fmt.Fprintf(w, "total     %s\n", money(p.Total))
}

func money(cents int64) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
