package notify

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vitaqr/go-eds/internal/domain/alert"
	"github.com/vitaqr/go-eds/internal/domain/profile"
	"github.com/vitaqr/go-eds/internal/observability/metrics"
	"github.com/vitaqr/go-eds/pkg/workerpool"
)

// sendTimeout bounds one transport attempt. A hung provider must not stall
// the rest of an emergency fan-out.
const sendTimeout = 8 * time.Second

// ChannelStatus is the per-channel outcome for one recipient.
type ChannelStatus string

const (
	StatusSent    ChannelStatus = "sent"
	StatusFailed  ChannelStatus = "failed"
	StatusSkipped ChannelStatus = "skipped"
)

// Event describes the occurrence being broadcast to a user's
// representatives. The recipient address is filled in per channel.
type Event struct {
	Type            alert.NotificationType
	PatientName     string
	Lat             float64
	Lng             float64
	AccessorName    string
	NearestFacility string
	Facilities      []FacilityInfo
	Locale          string
}

func (e Event) eventType() EventType {
	if e.Type == alert.TypeAccessNotification {
		return EventAccess
	}
	return EventPanic
}

// RecipientResult is the aggregated multi-channel outcome for one
// representative.
type RecipientResult struct {
	Representative *profile.Representative
	SMS            ChannelStatus
	WhatsApp       ChannelStatus
	Email          ChannelStatus
	MessageID      string
	Err            string
}

// Outcome converts the result into the immutable delivery snapshot stored
// on the alert.
func (r *RecipientResult) Outcome() alert.DeliveryOutcome {
	return alert.DeliveryOutcome{
		Name:     r.Representative.Name,
		Phone:    r.Representative.Phone,
		Priority: r.Representative.Priority,
		SMS:      string(r.SMS),
		WhatsApp: string(r.WhatsApp),
		Email:    string(r.Email),
		Error:    r.Err,
	}
}

// RecordStore persists one notification record per delivery attempt.
type RecordStore interface {
	CreateNotificationRecord(ctx context.Context, rec *alert.NotificationRecord) error
}

// Channels groups the configured provider per channel. Each entry is
// typically a Fallback over a modern and a legacy transport.
type Channels struct {
	SMS      Provider
	WhatsApp Provider
	Email    Provider
}

// Dispatcher fans an event out to representatives across all channels.
// Transport failures are recorded as data; Dispatch only fails on its own
// invariant violations, never on a provider's behalf.
type Dispatcher struct {
	channels Channels
	composer *Composer
	records  RecordStore
	metrics  *metrics.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer

	recipientPool *workerpool.Pool
	channelPool   *workerpool.Pool
}

// NewDispatcher creates a dispatcher. records and m may be nil in tests.
func NewDispatcher(channels Channels, records RecordStore, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		channels: channels,
		composer: NewComposer(),
		records:  records,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("notify-dispatcher"),
	}

	// Error returns are impossible here: both worker funcs are non-nil.
	d.recipientPool, _ = workerpool.New(workerpool.Config{Workers: 8}, d.recipientWorker, logger)
	d.channelPool, _ = workerpool.New(workerpool.Config{Workers: 3}, d.channelWorker, logger)
	return d
}

// NotifyAll dispatches the event to every representative. Results come back
// in priority order (ascending) and there is exactly one per input
// representative: a recipient whose dispatch fails, or even panics, yields
// a failed result without disturbing its siblings.
func (d *Dispatcher) NotifyAll(ctx context.Context, reps []*profile.Representative, ev Event) []*RecipientResult {
	ctx, span := d.tracer.Start(ctx, "notify.all",
		trace.WithAttributes(
			attribute.Int("recipients", len(reps)),
			attribute.String("event_type", string(ev.Type)),
		))
	defer span.End()

	ordered := make([]*profile.Representative, len(reps))
	copy(ordered, reps)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	tasks := make([]*workerpool.Task, len(ordered))
	for i, rep := range ordered {
		tasks[i] = &workerpool.Task{
			ID:      rep.ID.String(),
			Payload: &recipientTask{rep: rep, ev: ev},
		}
	}

	poolResults := d.recipientPool.Do(ctx, tasks)

	results := make([]*RecipientResult, len(ordered))
	for i, pr := range poolResults {
		if rr, ok := pr.Data.(*RecipientResult); ok && rr != nil {
			results[i] = rr
			continue
		}
		// Panic or worker malfunction: synthesize a fully-failed result so
		// the delivery snapshot still covers this recipient.
		errMsg := "dispatch failed"
		if pr.Error != nil {
			errMsg = pr.Error.Error()
		}
		d.logger.Error("recipient dispatch failed",
			zap.String("recipient", ordered[i].Name),
			zap.String("error", errMsg))
		results[i] = &RecipientResult{
			Representative: ordered[i],
			SMS:            StatusFailed,
			WhatsApp:       StatusFailed,
			Email:          StatusFailed,
			Err:            errMsg,
		}
	}
	return results
}

// NotifyRecipient dispatches the event to one representative: SMS and
// WhatsApp concurrently, email only when an address is on file.
func (d *Dispatcher) NotifyRecipient(ctx context.Context, rep *profile.Representative, ev Event) *RecipientResult {
	ctx, span := d.tracer.Start(ctx, "notify.recipient",
		trace.WithAttributes(attribute.String("recipient", rep.Name)))
	defer span.End()

	result := &RecipientResult{
		Representative: rep,
		SMS:            StatusSkipped,
		WhatsApp:       StatusSkipped,
		Email:          StatusSkipped,
	}

	tasks := []*workerpool.Task{
		{ID: string(ChannelSMS), Payload: &channelTask{channel: ChannelSMS, to: rep.Phone, ev: ev}},
		{ID: string(ChannelWhatsApp), Payload: &channelTask{channel: ChannelWhatsApp, to: rep.Phone, ev: ev}},
	}
	if rep.Email != "" {
		tasks = append(tasks, &workerpool.Task{
			ID:      string(ChannelEmail),
			Payload: &channelTask{channel: ChannelEmail, to: rep.Email, ev: ev},
		})
	}

	var firstErr string
	for _, pr := range d.channelPool.Do(ctx, tasks) {
		status := StatusFailed
		var messageID string
		if sr, ok := pr.Data.(*Result); ok && sr != nil {
			if sr.OK {
				status = StatusSent
				messageID = sr.MessageID
			} else if firstErr == "" {
				firstErr = sr.Error
			}
		} else if pr.Error != nil && firstErr == "" {
			firstErr = pr.Error.Error()
		}

		switch Channel(pr.TaskID) {
		case ChannelSMS:
			result.SMS = status
		case ChannelWhatsApp:
			result.WhatsApp = status
		case ChannelEmail:
			result.Email = status
		}
		if messageID != "" && result.MessageID == "" {
			result.MessageID = messageID
		}
	}
	result.Err = firstErr
	return result
}

// Health reports configured-provider availability per channel, for the
// operational health endpoint.
type ProviderStatus struct {
	Channel   Channel `json:"channel"`
	Provider  string  `json:"provider"`
	Available bool    `json:"available"`
}

func (d *Dispatcher) Health() []ProviderStatus {
	statuses := make([]ProviderStatus, 0, 3)
	for _, entry := range []struct {
		ch Channel
		p  Provider
	}{
		{ChannelSMS, d.channels.SMS},
		{ChannelWhatsApp, d.channels.WhatsApp},
		{ChannelEmail, d.channels.Email},
	} {
		if entry.p == nil {
			continue
		}
		statuses = append(statuses, ProviderStatus{
			Channel:   entry.ch,
			Provider:  entry.p.Name(),
			Available: entry.p.Available(),
		})
	}
	return statuses
}

type recipientTask struct {
	rep *profile.Representative
	ev  Event
}

type channelTask struct {
	channel Channel
	to      string
	ev      Event
}

func (d *Dispatcher) recipientWorker(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	rt, ok := task.Payload.(*recipientTask)
	if !ok {
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: fmt.Errorf("unexpected payload %T", task.Payload)}
	}
	rr := d.NotifyRecipient(ctx, rt.rep, rt.ev)
	return &workerpool.Result{TaskID: task.ID, Success: rr.Err == "", Data: rr}
}

func (d *Dispatcher) channelWorker(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	ct, ok := task.Payload.(*channelTask)
	if !ok {
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: fmt.Errorf("unexpected payload %T", task.Payload)}
	}

	provider := d.providerFor(ct.channel)
	if provider == nil {
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: fmt.Errorf("no provider configured for %s", ct.channel)}
	}

	params := SendParams{
		To:              ct.to,
		PatientName:     ct.ev.PatientName,
		Lat:             ct.ev.Lat,
		Lng:             ct.ev.Lng,
		Event:           ct.ev.eventType(),
		AccessorName:    ct.ev.AccessorName,
		NearestFacility: ct.ev.NearestFacility,
		Facilities:      ct.ev.Facilities,
		Locale:          ct.ev.Locale,
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	res := provider.Send(sendCtx, params)
	if res == nil {
		res = Failure(provider.Name(), fmt.Errorf("provider returned no result"))
	}

	d.record(ctx, ct, params, res)
	d.count(ct.channel, res.OK)

	return &workerpool.Result{TaskID: task.ID, Success: res.OK, Data: res}
}

func (d *Dispatcher) providerFor(ch Channel) Provider {
	switch ch {
	case ChannelSMS:
		return d.channels.SMS
	case ChannelWhatsApp:
		return d.channels.WhatsApp
	case ChannelEmail:
		return d.channels.Email
	}
	return nil
}

// record writes the per-attempt notification record. A storage failure is
// logged and swallowed: the audit trail must never block the alert itself.
func (d *Dispatcher) record(ctx context.Context, ct *channelTask, params SendParams, res *Result) {
	if d.records == nil {
		return
	}

	status := "failed"
	if res.OK {
		status = "sent"
	}
	rec := &alert.NotificationRecord{
		Recipient: ct.to,
		Type:      ct.ev.Type,
		Channel:   string(ct.channel),
		Body:      d.composer.Body(params),
		Status:    status,
		MessageID: res.MessageID,
		Error:     res.Error,
		Metadata:  res.Metadata,
	}
	if err := d.records.CreateNotificationRecord(ctx, rec); err != nil {
		d.logger.Error("failed to persist notification record",
			zap.String("recipient", ct.to),
			zap.String("channel", string(ct.channel)),
			zap.Error(err))
	}
}

func (d *Dispatcher) count(ch Channel, ok bool) {
	if d.metrics == nil {
		return
	}
	status := "failed"
	if ok {
		status = "sent"
	}
	d.metrics.NotificationsSent.WithLabelValues(string(ch), status).Inc()
}
