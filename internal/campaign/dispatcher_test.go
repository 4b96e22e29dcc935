package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/wagate/wa-gateway/internal/model"
)

type fakeStore struct {
	mu sync.Mutex

	due     []model.Campaign
	listErr error

	// per-campaign overrides
	queueLost   map[string]bool
	finalizeErr error

	queued    []string
	failed    []string
	finalized []string
	balance   int64
}

func newFakeStore(balance int64, due ...model.Campaign) *fakeStore {
	return &fakeStore{due: due, balance: balance, queueLost: make(map[string]bool)}
}

func (s *fakeStore) ListDue(context.Context, time.Time) ([]model.Campaign, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.due, nil
}

func (s *fakeStore) MarkQueued(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queueLost[id] {
		return false, nil
	}
	s.queued = append(s.queued, id)
	return true, nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, id)
	return nil
}

func (s *fakeStore) FinalizeSent(_ context.Context, id, _ string, tokens int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalizeErr != nil {
		return s.finalizeErr
	}
	s.finalized = append(s.finalized, id)
	s.balance -= tokens
	return nil
}

type fakeSender struct {
	mu    sync.Mutex
	fail  map[string]bool // recipient -> fail
	calls []string
}

func (f *fakeSender) Send(_ context.Context, _, recipient, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recipient)
	if f.fail[recipient] {
		return fmt.Errorf("provider rejected %s", recipient)
	}
	return nil
}

type fakeSink struct {
	mu     sync.Mutex
	events []model.SendEvent
}

func (f *fakeSink) Publish(_ context.Context, _, value []byte) error {
	var ev model.SendEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return err
	}
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	return nil
}

func mkCampaign(t *testing.T, id, message string, status model.CampaignStatus, recipients ...string) model.Campaign {
	t.Helper()
	c := model.Campaign{ID: id, TenantID: "acme", Message: message, Status: status}
	if err := c.SetRecipients(recipients); err != nil {
		t.Fatalf("SetRecipients: %v", err)
	}
	return c
}

func TestPartialFailureFailsCampaignWithoutBilling(t *testing.T) {
	c := mkCampaign(t, "c1", "hi there", model.CampaignScheduled,
		"+15550000001", "+15550000002", "+15550000003")
	store := newFakeStore(100, c)
	sender := &fakeSender{fail: map[string]bool{"+15550000003": true}}
	sink := &fakeSink{}

	d := NewDispatcher(store, sender, sink, time.Minute, time.Second)
	d.RunCycle(context.Background())

	if len(store.failed) != 1 || store.failed[0] != "c1" {
		t.Fatalf("expected campaign c1 marked failed, got %v", store.failed)
	}
	if len(store.finalized) != 0 {
		t.Fatalf("campaign must not be billed on partial failure")
	}
	if store.balance != 100 {
		t.Fatalf("balance changed on failed campaign: %d", store.balance)
	}
	if len(sender.calls) != 3 {
		t.Fatalf("remaining recipients must still be attempted, got %d sends", len(sender.calls))
	}
}

func TestFullSuccessBillsWordCountPerRecipient(t *testing.T) {
	c := mkCampaign(t, "c1", "hi there", model.CampaignScheduled,
		"+15550000001", "+15550000002", "+15550000003")
	store := newFakeStore(100, c)
	sender := &fakeSender{}
	sink := &fakeSink{}

	d := NewDispatcher(store, sender, sink, time.Minute, time.Second)
	d.RunCycle(context.Background())

	if len(store.finalized) != 1 {
		t.Fatalf("expected campaign finalized, got %v", store.finalized)
	}
	// 3 recipients x 2 words = 6 tokens
	if store.balance != 94 {
		t.Fatalf("expected balance 94 after billing, got %d", store.balance)
	}
	if len(store.failed) != 0 {
		t.Fatalf("unexpected failure marks: %v", store.failed)
	}
	if len(sink.events) != 3 {
		t.Fatalf("expected 3 send events, got %d", len(sink.events))
	}
	for _, ev := range sink.events {
		if ev.Result != model.SendOK || ev.CampaignID != "c1" {
			t.Fatalf("unexpected event %+v", ev)
		}
	}
}

func TestZeroRecipientsFailsWithoutBilling(t *testing.T) {
	c := mkCampaign(t, "c1", "hi there", model.CampaignScheduled)
	store := newFakeStore(100, c)

	d := NewDispatcher(store, &fakeSender{}, nil, time.Minute, time.Second)
	d.RunCycle(context.Background())

	if len(store.failed) != 1 {
		t.Fatalf("campaign with zero successes must fail, got %v", store.failed)
	}
	if store.balance != 100 {
		t.Fatalf("balance changed: %d", store.balance)
	}
}

func TestUnresolvableRecipientCountsAsFailure(t *testing.T) {
	c := mkCampaign(t, "c1", "hello", model.CampaignScheduled,
		"+15550000001", "not-a-number")
	store := newFakeStore(100, c)
	sender := &fakeSender{}
	sink := &fakeSink{}

	d := NewDispatcher(store, sender, sink, time.Minute, time.Second)
	d.RunCycle(context.Background())

	if len(store.failed) != 1 {
		t.Fatalf("expected campaign failed, got %v", store.failed)
	}
	// The bad recipient never reaches the sender.
	if len(sender.calls) != 1 {
		t.Fatalf("expected 1 send attempt, got %d", len(sender.calls))
	}
	var sawFailed bool
	for _, ev := range sink.events {
		if ev.Result == model.SendFailed && ev.Detail == "unresolvable recipient" {
			sawFailed = true
			// The event carries the raw input so the log shows which
			// recipient could not be resolved.
			if ev.Phone != "not-a-number" {
				t.Fatalf("expected raw recipient in event, got %q", ev.Phone)
			}
		}
	}
	if !sawFailed {
		t.Fatalf("expected an unresolvable-recipient event, got %+v", sink.events)
	}
}

func TestScheduledCampaignIsClaimedBeforeProcessing(t *testing.T) {
	c := mkCampaign(t, "c1", "hello", model.CampaignScheduled, "+15550000001")
	store := newFakeStore(100, c)

	d := NewDispatcher(store, &fakeSender{}, nil, time.Minute, time.Second)
	d.RunCycle(context.Background())

	if len(store.queued) != 1 || store.queued[0] != "c1" {
		t.Fatalf("expected queue claim before processing, got %v", store.queued)
	}
}

func TestLostQueueClaimSkipsCampaign(t *testing.T) {
	c := mkCampaign(t, "c1", "hello", model.CampaignScheduled, "+15550000001")
	store := newFakeStore(100, c)
	store.queueLost["c1"] = true
	sender := &fakeSender{}

	d := NewDispatcher(store, sender, nil, time.Minute, time.Second)
	d.RunCycle(context.Background())

	if len(sender.calls) != 0 {
		t.Fatalf("lost claim must not send, got %d sends", len(sender.calls))
	}
	if len(store.failed) != 0 || len(store.finalized) != 0 {
		t.Fatalf("lost claim must not change campaign status")
	}
}

func TestStrandedQueuedCampaignIsRetriedWithoutReclaim(t *testing.T) {
	// A campaign left Queued by a crashed cycle is processed directly.
	c := mkCampaign(t, "c1", "hello", model.CampaignQueued, "+15550000001")
	store := newFakeStore(100, c)
	sender := &fakeSender{}

	d := NewDispatcher(store, sender, nil, time.Minute, time.Second)
	d.RunCycle(context.Background())

	if len(store.queued) != 0 {
		t.Fatalf("queued campaign must not be re-claimed, got %v", store.queued)
	}
	if len(store.finalized) != 1 {
		t.Fatalf("expected retry to finalize, got %v", store.finalized)
	}
}

func TestFinalizeErrorLeavesCampaignQueued(t *testing.T) {
	c := mkCampaign(t, "c1", "hello", model.CampaignQueued, "+15550000001")
	store := newFakeStore(100, c)
	store.finalizeErr = fmt.Errorf("deadlock")

	d := NewDispatcher(store, &fakeSender{}, nil, time.Minute, time.Second)
	d.RunCycle(context.Background())

	if len(store.failed) != 0 {
		t.Fatalf("finalize error must not mark failed, got %v", store.failed)
	}
	if store.balance != 100 {
		t.Fatalf("finalize error must not bill, balance %d", store.balance)
	}
}

func TestMalformedRecipientListFailsCampaign(t *testing.T) {
	c := model.Campaign{ID: "c1", TenantID: "acme", Message: "hello",
		Status: model.CampaignQueued, RecipientsRaw: []byte("{broken")}
	store := newFakeStore(100, c)

	d := NewDispatcher(store, &fakeSender{}, nil, time.Minute, time.Second)
	d.RunCycle(context.Background())

	if len(store.failed) != 1 {
		t.Fatalf("malformed recipients must fail the campaign, got %v", store.failed)
	}
}

func TestIndependentCampaignsAreIsolated(t *testing.T) {
	good := mkCampaign(t, "c-good", "hi there", model.CampaignQueued, "+15550000001")
	bad := mkCampaign(t, "c-bad", "hi there", model.CampaignQueued, "+15550000002")
	store := newFakeStore(100, good, bad)
	sender := &fakeSender{fail: map[string]bool{"+15550000002": true}}

	d := NewDispatcher(store, sender, nil, time.Minute, time.Second)
	d.RunCycle(context.Background())

	if len(store.finalized) != 1 || store.finalized[0] != "c-good" {
		t.Fatalf("expected c-good finalized, got %v", store.finalized)
	}
	if len(store.failed) != 1 || store.failed[0] != "c-bad" {
		t.Fatalf("expected c-bad failed, got %v", store.failed)
	}
	// Only c-good billed: 1 recipient x 2 words.
	if store.balance != 98 {
		t.Fatalf("expected balance 98, got %d", store.balance)
	}
}
