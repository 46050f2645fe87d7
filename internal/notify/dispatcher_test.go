package notify

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/vitaqr/go-eds/internal/domain/alert"
	"github.com/vitaqr/go-eds/internal/domain/profile"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memRecordStore struct {
	mu      sync.Mutex
	records []*alert.NotificationRecord
	err     error
}

func (m *memRecordStore) CreateNotificationRecord(_ context.Context, rec *alert.NotificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memRecordStore) byChannel(channel string) []*alert.NotificationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*alert.NotificationRecord
	for _, r := range m.records {
		if r.Channel == channel {
			out = append(out, r)
		}
	}
	return out
}

func (m *memRecordStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func simulatedChannels() Channels {
	return Channels{
		SMS:      NewSimulated(ChannelSMS),
		WhatsApp: NewSimulated(ChannelWhatsApp),
		Email:    NewSimulated(ChannelEmail),
	}
}

func rep(name, phone, email string, priority int) *profile.Representative {
	return &profile.Representative{
		ID:       uuid.New(),
		Name:     name,
		Phone:    phone,
		Email:    email,
		Priority: priority,
	}
}

func panicEvent() Event {
	return Event{
		Type:            alert.TypeEmergencyAlert,
		PatientName:     "María García",
		Lat:             19.4326,
		Lng:             -99.1332,
		NearestFacility: "Hospital General",
	}
}

func TestNotifyRecipientAllChannels(t *testing.T) {
	store := &memRecordStore{}
	d := NewDispatcher(simulatedChannels(), store, nil, nil)

	res := d.NotifyRecipient(context.Background(), rep("Ana", "+5215511111111", "ana@example.com", 1), panicEvent())

	if res.SMS != StatusSent || res.WhatsApp != StatusSent || res.Email != StatusSent {
		t.Fatalf("expected all channels sent, got sms=%s whatsapp=%s email=%s", res.SMS, res.WhatsApp, res.Email)
	}
	if res.Err != "" {
		t.Errorf("unexpected error %q", res.Err)
	}
	if res.MessageID == "" {
		t.Errorf("expected a message id from a successful channel")
	}
	if store.count() != 3 {
		t.Errorf("expected 3 notification records, got %d", store.count())
	}
}

func TestNotifyRecipientSkipsEmailWithoutAddress(t *testing.T) {
	store := &memRecordStore{}
	d := NewDispatcher(simulatedChannels(), store, nil, nil)

	res := d.NotifyRecipient(context.Background(), rep("Luis", "+5215522222222", "", 1), panicEvent())

	if res.Email != StatusSkipped {
		t.Fatalf("expected email skipped, got %s", res.Email)
	}
	if res.SMS != StatusSent || res.WhatsApp != StatusSent {
		t.Errorf("messaging channels should still send: sms=%s whatsapp=%s", res.SMS, res.WhatsApp)
	}
	// A skipped channel is not an attempt and writes no record.
	if n := len(store.byChannel("email")); n != 0 {
		t.Errorf("expected no email records, got %d", n)
	}
	if store.count() != 2 {
		t.Errorf("expected 2 records, got %d", store.count())
	}
}

func TestNotifyRecipientRecordsFailures(t *testing.T) {
	store := &memRecordStore{}
	channels := simulatedChannels()
	channels.SMS = &stubProvider{name: "broken-sms", available: true, ok: false, errMsg: "carrier rejected"}
	d := NewDispatcher(channels, store, nil, nil)

	res := d.NotifyRecipient(context.Background(), rep("Ana", "+5215511111111", "", 1), panicEvent())

	if res.SMS != StatusFailed {
		t.Fatalf("expected sms failed, got %s", res.SMS)
	}
	if res.WhatsApp != StatusSent {
		t.Errorf("whatsapp must be unaffected by the sms failure, got %s", res.WhatsApp)
	}
	if res.Err != "carrier rejected" {
		t.Errorf("expected the transport error surfaced, got %q", res.Err)
	}

	sms := store.byChannel("sms")
	if len(sms) != 1 {
		t.Fatalf("expected 1 sms record, got %d", len(sms))
	}
	if sms[0].Status != "failed" || sms[0].Error != "carrier rejected" {
		t.Errorf("failed attempt must be recorded as data: status=%s err=%q", sms[0].Status, sms[0].Error)
	}
}

func TestNotifyRecipientSurvivesProviderPanic(t *testing.T) {
	store := &memRecordStore{}
	channels := simulatedChannels()
	channels.WhatsApp = &stubProvider{name: "panicky", available: true, panics: true}
	d := NewDispatcher(channels, store, nil, nil)

	res := d.NotifyRecipient(context.Background(), rep("Ana", "+5215511111111", "ana@example.com", 1), panicEvent())

	if res.WhatsApp != StatusFailed {
		t.Fatalf("expected whatsapp failed after panic, got %s", res.WhatsApp)
	}
	if res.SMS != StatusSent || res.Email != StatusSent {
		t.Errorf("sibling channels must be isolated from the panic: sms=%s email=%s", res.SMS, res.Email)
	}
}

func TestNotifyAllPriorityOrder(t *testing.T) {
	d := NewDispatcher(simulatedChannels(), &memRecordStore{}, nil, nil)

	reps := []*profile.Representative{
		rep("Tercero", "+5215533333333", "", 3),
		rep("Primero", "+5215511111111", "p1@example.com", 1),
		rep("Segundo", "+5215522222222", "", 2),
	}

	results := d.NotifyAll(context.Background(), reps, panicEvent())

	if len(results) != len(reps) {
		t.Fatalf("expected %d results, got %d", len(reps), len(results))
	}
	wantOrder := []string{"Primero", "Segundo", "Tercero"}
	for i, want := range wantOrder {
		if results[i].Representative.Name != want {
			t.Errorf("results[%d] = %s, want %s", i, results[i].Representative.Name, want)
		}
	}
}

func TestNotifyAllIsolatesFailingRecipient(t *testing.T) {
	store := &memRecordStore{}
	channels := simulatedChannels()
	channels.SMS = &stubProvider{name: "panicky-sms", available: true, panics: true}
	channels.WhatsApp = &stubProvider{name: "broken-wa", available: true, ok: false, errMsg: "number blocked"}
	d := NewDispatcher(channels, store, nil, nil)

	reps := []*profile.Representative{
		rep("Uno", "+5215511111111", "uno@example.com", 1),
		rep("Dos", "+5215522222222", "", 2),
	}

	results := d.NotifyAll(context.Background(), reps, panicEvent())

	if len(results) != 2 {
		t.Fatalf("every recipient must get a result, got %d", len(results))
	}
	for _, r := range results {
		if r.SMS != StatusFailed || r.WhatsApp != StatusFailed {
			t.Errorf("%s: expected messaging failures, got sms=%s whatsapp=%s", r.Representative.Name, r.SMS, r.WhatsApp)
		}
		if r.Err == "" {
			t.Errorf("%s: expected an error captured", r.Representative.Name)
		}
	}
	if results[0].Email != StatusSent {
		t.Errorf("email must still deliver despite messaging failures, got %s", results[0].Email)
	}
	if results[1].Email != StatusSkipped {
		t.Errorf("recipient without address keeps email skipped, got %s", results[1].Email)
	}
}

func TestNotifyAllEmpty(t *testing.T) {
	d := NewDispatcher(simulatedChannels(), nil, nil, nil)
	results := d.NotifyAll(context.Background(), nil, panicEvent())
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestDispatcherSwallowsRecordStoreErrors(t *testing.T) {
	store := &memRecordStore{err: context.DeadlineExceeded}
	d := NewDispatcher(simulatedChannels(), store, nil, nil)

	res := d.NotifyRecipient(context.Background(), rep("Ana", "+5215511111111", "", 1), panicEvent())
	if res.SMS != StatusSent || res.WhatsApp != StatusSent {
		t.Fatalf("record persistence failure must not fail the dispatch: sms=%s whatsapp=%s", res.SMS, res.WhatsApp)
	}
}

func TestDispatcherHealth(t *testing.T) {
	channels := Channels{
		SMS:      &stubProvider{name: "twilio-sms", available: true},
		WhatsApp: &stubProvider{name: "twilio-whatsapp", available: false},
		Email:    &stubProvider{name: "sendgrid-email", available: true},
	}
	d := NewDispatcher(channels, nil, nil, nil)

	statuses := d.Health()
	if len(statuses) != 3 {
		t.Fatalf("expected 3 channel statuses, got %d", len(statuses))
	}
	byChannel := map[Channel]ProviderStatus{}
	for _, s := range statuses {
		byChannel[s.Channel] = s
	}
	if !byChannel[ChannelSMS].Available || byChannel[ChannelWhatsApp].Available {
		t.Errorf("availability mismatch: %+v", byChannel)
	}
}
