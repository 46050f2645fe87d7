// Package alert implements the panic alert record and its lifecycle.
package alert

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vitaqr/go-eds/internal/geo"
)

// Status represents the alert lifecycle state. CANCELLED is terminal; there
// is no automatic expiry or resolved state.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
)

// ErrInvalidLocation indicates malformed trigger coordinates.
var ErrInvalidLocation = errors.New("invalid location coordinates")

// ErrNotFoundOrInactive is the single error kind for cancel/read misses. It
// deliberately does not distinguish "missing", "owned by someone else", and
// "not active": the distinction would leak the existence of another user's
// alert.
var ErrNotFoundOrInactive = errors.New("alert not found or not active")

// FacilitySnapshot freezes one matched facility as known at dispatch time.
type FacilitySnapshot struct {
	Name           string  `json:"name"`
	DistanceKm     float64 `json:"distance_km"`
	RelevanceScore float64 `json:"relevance_score,omitempty"`
	Phone          string  `json:"phone,omitempty"`
	EmergencyPhone string  `json:"emergency_phone,omitempty"`
}

// DeliveryOutcome freezes one representative's per-channel delivery result.
type DeliveryOutcome struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Priority int    `json:"priority"`
	SMS      string `json:"sms"`
	WhatsApp string `json:"whatsapp"`
	Email    string `json:"email"`
	Error    string `json:"error,omitempty"`
}

// PanicAlert is one emergency-trigger event. The facility and delivery
// snapshots are immutable once attached: they describe what was known at
// dispatch time, not live state.
type PanicAlert struct {
	ID          uuid.UUID          `json:"id"`
	UserID      uuid.UUID          `json:"user_id"`
	Lat         float64            `json:"lat"`
	Lng         float64            `json:"lng"`
	Accuracy    *float64           `json:"accuracy,omitempty"`
	Message     string             `json:"message,omitempty"`
	Status      Status             `json:"status"`
	Facilities  []FacilitySnapshot `json:"facilities"`
	Deliveries  []DeliveryOutcome  `json:"deliveries"`
	CreatedAt   time.Time          `json:"created_at"`
	CancelledAt *time.Time         `json:"cancelled_at,omitempty"`
}

// NewPanicAlert creates an ACTIVE alert with the facility snapshot taken at
// trigger time. The delivery snapshot is attached once, after dispatch.
func NewPanicAlert(userID uuid.UUID, lat, lng float64, accuracy *float64, message string, facilities []FacilitySnapshot) (*PanicAlert, error) {
	if !geo.ValidPoint(lat, lng) {
		return nil, ErrInvalidLocation
	}
	return &PanicAlert{
		ID:         uuid.New(),
		UserID:     userID,
		Lat:        lat,
		Lng:        lng,
		Accuracy:   accuracy,
		Message:    message,
		Status:     StatusActive,
		Facilities: facilities,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Cancel transitions an active alert to CANCELLED.
func (a *PanicAlert) Cancel() error {
	if a.Status != StatusActive {
		return ErrNotFoundOrInactive
	}
	now := time.Now().UTC()
	a.Status = StatusCancelled
	a.CancelledAt = &now
	return nil
}

// NotificationType is the logical kind of a notification record.
type NotificationType string

const (
	TypeEmergencyAlert     NotificationType = "emergency-alert"
	TypeAccessNotification NotificationType = "access-notification"
)

// NotificationRecord is one (recipient, channel) delivery attempt. Records
// are written once and never updated: retries produce new records.
type NotificationRecord struct {
	ID        uuid.UUID         `json:"id"`
	Recipient string            `json:"recipient"`
	Type      NotificationType  `json:"type"`
	Channel   string            `json:"channel"`
	Body      string            `json:"body,omitempty"`
	Status    string            `json:"status"` // sent | failed
	MessageID string            `json:"message_id,omitempty"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
