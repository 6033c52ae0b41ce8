package domain

import "time"

type NotificationType string

const (
	NotificationBookingConfirmed NotificationType = "BOOKING_CONFIRMED"
	NotificationLoyaltyPoints    NotificationType = "LOYALTY_POINTS"
	NotificationBookingCancelled NotificationType = "BOOKING_CANCELLED"
	NotificationSeatsExpired     NotificationType = "SEATS_EXPIRED"
	NotificationPriceUpdate      NotificationType = "PRICE_UPDATE"
	NotificationSeatConflict     NotificationType = "SEAT_CONFLICT"
	NotificationNetworkError     NotificationType = "NETWORK_ERROR"
	NotificationLoadError        NotificationType = "LOAD_ERROR"
	NotificationSaveError        NotificationType = "SAVE_ERROR"
)

type Notification struct {
	ID         string           `json:"id"`
	Type       NotificationType `json:"type"`
	SessionID  string           `json:"session_id,omitempty"`
	Recipient  string           `json:"recipient,omitempty"`
	Title      string           `json:"title"`
	Message    string           `json:"message"`
	Actionable bool             `json:"actionable"`
	Actions    []Action         `json:"actions,omitempty"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// Action names an operation the user can trigger again, with the parameters of
// the original call.
type Action struct {
	Label     string            `json:"label"`
	Operation string            `json:"operation"`
	Params    map[string]string `json:"params,omitempty"`
}
