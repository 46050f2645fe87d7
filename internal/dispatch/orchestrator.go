// Package dispatch coordinates the panic alert flow: profile lookup,
// facility matching, multi-channel notification, persistence, and realtime
// event publication.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vitaqr/go-eds/internal/domain/alert"
	"github.com/vitaqr/go-eds/internal/domain/profile"
	"github.com/vitaqr/go-eds/internal/geo"
	"github.com/vitaqr/go-eds/internal/hospital"
	"github.com/vitaqr/go-eds/internal/notify"
	"github.com/vitaqr/go-eds/internal/observability/metrics"
	"github.com/vitaqr/go-eds/internal/realtime"
	"github.com/vitaqr/go-eds/pkg/idempotency"
)

// AlertStore is the persistence contract the orchestrator needs.
// *alert.Repository satisfies it; tests provide in-memory doubles.
type AlertStore interface {
	Create(ctx context.Context, a *alert.PanicAlert) error
	AttachDeliveries(ctx context.Context, id uuid.UUID, deliveries []alert.DeliveryOutcome) error
	Cancel(ctx context.Context, id, userID uuid.UUID) error
	GetByID(ctx context.Context, id, userID uuid.UUID) (*alert.PanicAlert, error)
	ListActive(ctx context.Context, userID uuid.UUID) ([]*alert.PanicAlert, error)
	ListHistory(ctx context.Context, userID uuid.UUID, limit int) ([]*alert.PanicAlert, error)
}

// FacilityFinder matches hospitals near a trigger location.
type FacilityFinder interface {
	FindNearby(ctx context.Context, origin geo.Point, conditions []string) ([]*hospital.Candidate, error)
}

// Notifier fans an event out to representatives.
type Notifier interface {
	NotifyAll(ctx context.Context, reps []*profile.Representative, ev notify.Event) []*notify.RecipientResult
}

// TriggerInput is one panic button press.
type TriggerInput struct {
	UserID   uuid.UUID `json:"user_id"`
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	Accuracy *float64  `json:"accuracy,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// ActivateResult is the outcome of a trigger: the persisted alert plus the
// per-recipient delivery results, in priority order.
type ActivateResult struct {
	Alert    *alert.PanicAlert         `json:"alert"`
	Notified []*notify.RecipientResult `json:"notified"`
}

// Orchestrator runs the emergency dispatch flow end to end.
type Orchestrator struct {
	alerts     AlertStore
	profiles   profile.Store
	facilities FacilityFinder
	notifier   Notifier
	publisher  realtime.Publisher
	inbox      *idempotency.Inbox
	metrics    *metrics.Metrics
	logger     *zap.Logger
	tracer     trace.Tracer
}

// Option configures optional orchestrator collaborators.
type Option func(*Orchestrator)

// WithInbox enables idempotent triggers: repeat presses from the same spot
// within the same minute replay the original result instead of re-alerting.
func WithInbox(inbox *idempotency.Inbox) Option {
	return func(o *Orchestrator) { o.inbox = inbox }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an orchestrator.
func New(alerts AlertStore, profiles profile.Store, facilities FacilityFinder, notifier Notifier, publisher realtime.Publisher, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		alerts:     alerts,
		profiles:   profiles,
		facilities: facilities,
		notifier:   notifier,
		publisher:  publisher,
		logger:     logger,
		tracer:     otel.Tracer("dispatch-orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Activate handles a panic trigger. Only validation and user lookup can
// fail it; transport, facility search, and publication problems degrade the
// result instead of aborting the emergency.
func (o *Orchestrator) Activate(ctx context.Context, in TriggerInput) (*ActivateResult, error) {
	if !geo.ValidPoint(in.Lat, in.Lng) {
		return nil, alert.ErrInvalidLocation
	}

	if o.inbox == nil {
		return o.activate(ctx, in)
	}

	key := idempotency.GenerateKey(in.UserID.String(), in.Lat, in.Lng, time.Now().UTC())
	payload, _ := json.Marshal(in)

	var fresh *ActivateResult
	pr, err := o.inbox.Process(ctx, key, "panic-trigger", payload, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		res, err := o.activate(ctx, in)
		if err != nil {
			return nil, err
		}
		fresh = res
		return json.Marshal(res)
	})
	if err != nil {
		return nil, err
	}
	if fresh != nil {
		return fresh, nil
	}

	// Duplicate trigger: replay the stored result.
	replay := &ActivateResult{}
	if err := json.Unmarshal(pr.Result, replay); err != nil {
		return nil, errors.New("stored trigger result is unreadable")
	}
	o.logger.Info("duplicate panic trigger deduplicated",
		zap.String("user_id", in.UserID.String()))
	return replay, nil
}

func (o *Orchestrator) activate(ctx context.Context, in TriggerInput) (*ActivateResult, error) {
	ctx, span := o.tracer.Start(ctx, "dispatch.activate",
		trace.WithAttributes(attribute.String("user_id", in.UserID.String())))
	defer span.End()

	user, err := o.profiles.GetUserWithRepresentatives(ctx, in.UserID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// Conditions sharpen facility ranking; losing them must not delay the
	// alert.
	conditions, err := o.profiles.GetConditions(ctx, in.UserID)
	if err != nil {
		o.logger.Warn("condition lookup failed, ranking by distance only",
			zap.String("user_id", in.UserID.String()),
			zap.Error(err))
		conditions = nil
	}

	searchStart := time.Now()
	candidates, err := o.facilities.FindNearby(ctx, geo.Point{Lat: in.Lat, Lng: in.Lng}, conditions)
	if err != nil {
		o.logger.Warn("facility search failed, dispatching without facilities",
			zap.Error(err))
		candidates = nil
	}
	if o.metrics != nil {
		o.metrics.FacilitySearchSeconds.Observe(time.Since(searchStart).Seconds())
	}
	span.SetAttributes(attribute.Int("facilities", len(candidates)))

	a, err := alert.NewPanicAlert(in.UserID, in.Lat, in.Lng, in.Accuracy, in.Message, snapshots(candidates))
	if err != nil {
		return nil, err
	}
	if err := o.alerts.Create(ctx, a); err != nil {
		span.RecordError(err)
		return nil, err
	}

	results := o.notifier.NotifyAll(ctx, user.EmergencyRepresentatives(), notify.Event{
		Type:            alert.TypeEmergencyAlert,
		PatientName:     user.Name,
		Lat:             in.Lat,
		Lng:             in.Lng,
		NearestFacility: nearestName(candidates),
		Facilities:      facilityInfos(candidates),
		Locale:          user.Locale,
	})

	deliveries := make([]alert.DeliveryOutcome, len(results))
	for i, r := range results {
		deliveries[i] = r.Outcome()
	}
	if err := o.alerts.AttachDeliveries(ctx, a.ID, deliveries); err != nil {
		// The alert exists and recipients were notified; the snapshot gap is
		// an audit defect, not a dispatch failure.
		o.logger.Error("failed to attach delivery snapshot",
			zap.String("alert_id", a.ID.String()),
			zap.Error(err))
	} else {
		a.Deliveries = deliveries
	}

	o.publishAlertEvent(ctx, a, user, conditions, realtime.EventAlertTriggered)

	if o.metrics != nil {
		o.metrics.AlertsTriggered.Inc()
		o.metrics.ActiveAlerts.Inc()
	}

	o.logger.Info("panic alert dispatched",
		zap.String("alert_id", a.ID.String()),
		zap.String("user_id", in.UserID.String()),
		zap.Int("facilities", len(candidates)),
		zap.Int("recipients", len(results)))

	return &ActivateResult{Alert: a, Notified: results}, nil
}

// Cancel transitions an active alert to cancelled and notifies listeners.
func (o *Orchestrator) Cancel(ctx context.Context, id, userID uuid.UUID) error {
	ctx, span := o.tracer.Start(ctx, "dispatch.cancel",
		trace.WithAttributes(attribute.String("alert_id", id.String())))
	defer span.End()

	if err := o.alerts.Cancel(ctx, id, userID); err != nil {
		span.RecordError(err)
		return err
	}

	if user, err := o.profiles.GetUserWithRepresentatives(ctx, userID); err == nil {
		a := &alert.PanicAlert{ID: id, UserID: userID, Status: alert.StatusCancelled}
		o.publishAlertEvent(ctx, a, user, nil, realtime.EventAlertCancelled)
	}

	if o.metrics != nil {
		o.metrics.AlertsCancelled.Inc()
		o.metrics.ActiveAlerts.Dec()
	}
	o.logger.Info("panic alert cancelled",
		zap.String("alert_id", id.String()),
		zap.String("user_id", userID.String()))
	return nil
}

// GetByID returns one alert scoped to its owner.
func (o *Orchestrator) GetByID(ctx context.Context, id, userID uuid.UUID) (*alert.PanicAlert, error) {
	return o.alerts.GetByID(ctx, id, userID)
}

// ListActive returns the user's active alerts, newest first.
func (o *Orchestrator) ListActive(ctx context.Context, userID uuid.UUID) ([]*alert.PanicAlert, error) {
	return o.alerts.ListActive(ctx, userID)
}

// ListHistory returns the user's alert history, newest first.
func (o *Orchestrator) ListHistory(ctx context.Context, userID uuid.UUID, limit int) ([]*alert.PanicAlert, error) {
	return o.alerts.ListHistory(ctx, userID, limit)
}

// NotifyAccess informs access-subscribed representatives that someone
// viewed the user's emergency medical profile.
func (o *Orchestrator) NotifyAccess(ctx context.Context, userID uuid.UUID, accessorName string) ([]*notify.RecipientResult, error) {
	ctx, span := o.tracer.Start(ctx, "dispatch.notify_access",
		trace.WithAttributes(attribute.String("user_id", userID.String())))
	defer span.End()

	user, err := o.profiles.GetUserWithRepresentatives(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	results := o.notifier.NotifyAll(ctx, user.AccessRepresentatives(), notify.Event{
		Type:         alert.TypeAccessNotification,
		PatientName:  user.Name,
		AccessorName: accessorName,
		Locale:       user.Locale,
	})

	if o.publisher != nil {
		payload := map[string]string{"user_id": userID.String(), "accessor": accessorName}
		if err := o.publisher.Publish(ctx, realtime.UserTopic(userID.String()), realtime.EventProfileAccess, payload); err != nil {
			o.logger.Warn("failed to publish access event", zap.Error(err))
		}
	}

	return results, nil
}

// publishAlertEvent fans the alert out to the user and representative
// channels. The payload is self-contained: a dashboard renders patient,
// conditions, and nearby facilities from the event alone, without a
// follow-up fetch.
func (o *Orchestrator) publishAlertEvent(ctx context.Context, a *alert.PanicAlert, user *profile.User, conditions []string, event string) {
	if o.publisher == nil {
		return
	}

	if conditions == nil {
		conditions = []string{}
	}
	facilities := a.Facilities
	if facilities == nil {
		facilities = []alert.FacilitySnapshot{}
	}
	payload := map[string]interface{}{
		"alert_id":   a.ID.String(),
		"user_id":    a.UserID.String(),
		"patient":    user.Name,
		"status":     string(a.Status),
		"lat":        a.Lat,
		"lng":        a.Lng,
		"conditions": conditions,
		"facilities": facilities,
	}
	topics := []string{realtime.UserTopic(a.UserID.String())}
	for _, rep := range user.EmergencyRepresentatives() {
		topics = append(topics, realtime.RepTopic(rep.ID.String()))
	}

	if err := realtime.Fanout(ctx, o.publisher, topics, event, payload); err != nil {
		o.logger.Warn("failed to publish alert event",
			zap.String("alert_id", a.ID.String()),
			zap.String("event", event),
			zap.Error(err))
	}
}

func snapshots(candidates []*hospital.Candidate) []alert.FacilitySnapshot {
	out := make([]alert.FacilitySnapshot, len(candidates))
	for i, c := range candidates {
		out[i] = alert.FacilitySnapshot{
			Name:           c.Facility.Name,
			DistanceKm:     c.DistanceKm,
			RelevanceScore: c.RelevanceScore,
			Phone:          c.Facility.Phone,
			EmergencyPhone: c.Facility.EmergencyPhone,
		}
	}
	return out
}

func nearestName(candidates []*hospital.Candidate) string {
	if len(candidates) == 0 {
		return ""
	}
	return candidates[0].Facility.Name
}

func facilityInfos(candidates []*hospital.Candidate) []notify.FacilityInfo {
	out := make([]notify.FacilityInfo, 0, len(candidates))
	for _, c := range candidates {
		phone := c.Facility.EmergencyPhone
		if phone == "" {
			phone = c.Facility.Phone
		}
		out = append(out, notify.FacilityInfo{Name: c.Facility.Name, Phone: phone})
	}
	return out
}
