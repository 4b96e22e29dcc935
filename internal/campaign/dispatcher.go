// Package campaign runs the periodic bulk-send job: it drains due
// campaigns from the store, fans out per-recipient sends through the
// session registry, and bills the token ledger on full success.
package campaign

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wagate/wa-gateway/internal/logger"
	"github.com/wagate/wa-gateway/internal/metrics"
	"github.com/wagate/wa-gateway/internal/model"
	"github.com/wagate/wa-gateway/internal/util"
)

// Store is the campaign/ledger persistence contract the dispatcher needs.
type Store interface {
	ListDue(ctx context.Context, now time.Time) ([]model.Campaign, error)
	MarkQueued(ctx context.Context, id string) (bool, error)
	MarkFailed(ctx context.Context, id string) error
	FinalizeSent(ctx context.Context, id, tenantID string, tokens int64) error
}

// Sender delivers one message as the given tenant. The registry implements
// this and rejects tenants that are not authenticated.
type Sender interface {
	Send(ctx context.Context, tenantID, recipient, text string) error
}

// EventSink receives per-recipient send outcomes (the report pipeline).
// May be nil; delivery is best-effort.
type EventSink interface {
	Publish(ctx context.Context, key, value []byte) error
}

// Dispatcher processes due campaigns on a fixed interval. Independent
// campaigns run concurrently; recipients within a campaign run
// sequentially with per-send timeouts.
type Dispatcher struct {
	store  Store
	sender Sender
	events EventSink

	Interval    time.Duration
	SendTimeout time.Duration

	now func() time.Time
}

func NewDispatcher(store Store, sender Sender, events EventSink, interval, sendTimeout time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	return &Dispatcher{
		store:       store,
		sender:      sender,
		events:      events,
		Interval:    interval,
		SendTimeout: sendTimeout,
		now:         time.Now,
	}
}

// Run blocks until ctx is cancelled, executing one cycle per tick. A slow
// cycle delays the next tick rather than overlapping it; the Scheduled ->
// Queued guard still protects against a second dispatcher process.
func (d *Dispatcher) Run(ctx context.Context) error {
	tick := time.NewTicker(d.Interval)
	defer tick.Stop()

	d.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			d.RunCycle(ctx)
		}
	}
}

// RunCycle selects and processes all due campaigns once. Errors are logged
// and scoped to the campaign or recipient that caused them; the cycle
// itself never fails.
func (d *Dispatcher) RunCycle(ctx context.Context) {
	now := d.now()

	due, err := d.store.ListDue(ctx, now)
	if err != nil {
		logger.Log.Error("dispatch: list due campaigns failed", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}

	logger.Log.Info("dispatch: cycle start", zap.Int("due", len(due)))

	var wg sync.WaitGroup
	for i := range due {
		c := due[i]

		if c.Status == model.CampaignScheduled {
			won, err := d.store.MarkQueued(ctx, c.ID)
			if err != nil {
				logger.Log.Error("dispatch: queue transition failed",
					zap.String("campaign_id", c.ID), zap.Error(err))
				continue
			}
			if !won {
				// Another cycle claimed it first.
				continue
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			d.process(ctx, c)
		}()
	}
	wg.Wait()
}

// process sends a campaign to each recipient and applies the outcome
// policy: any recipient failure, or zero successes, fails the whole
// campaign with no billing; full success bills successes x word count.
func (d *Dispatcher) process(ctx context.Context, c model.Campaign) {
	recipients, err := c.Recipients()
	if err != nil {
		logger.Log.Error("dispatch: malformed recipient list",
			zap.String("campaign_id", c.ID), zap.Error(err))
		d.markFailed(ctx, c.ID)
		return
	}

	var successes, failures int
	for _, raw := range recipients {
		phone := util.NormalizePhone(raw)
		if phone == "" || !util.ValidPhone(phone) {
			failures++
			metrics.SendsTotal.WithLabelValues("failed").Inc()
			d.emit(ctx, c, raw, model.SendFailed, "unresolvable recipient")
			logger.Log.Warn("dispatch: unresolvable recipient",
				zap.String("campaign_id", c.ID), zap.String("recipient", raw))
			continue
		}

		if err := d.sendOne(ctx, c.TenantID, phone, c.Message); err != nil {
			failures++
			metrics.SendsTotal.WithLabelValues("failed").Inc()
			d.emit(ctx, c, phone, model.SendFailed, err.Error())
			logger.Log.Warn("dispatch: send failed",
				zap.String("campaign_id", c.ID),
				zap.String("phone", phone), zap.Error(err))
			continue
		}

		successes++
		metrics.SendsTotal.WithLabelValues("ok").Inc()
		d.emit(ctx, c, phone, model.SendOK, "")
	}

	if failures > 0 || successes == 0 {
		logger.Log.Info("dispatch: campaign failed, no tokens deducted",
			zap.String("campaign_id", c.ID),
			zap.Int("successes", successes), zap.Int("failures", failures))
		d.markFailed(ctx, c.ID)
		return
	}

	tokens := int64(successes) * int64(WordCount(c.Message))
	if err := d.store.FinalizeSent(ctx, c.ID, c.TenantID, tokens); err != nil {
		// Left Queued with scheduled_at NULL: next cycle retries, and the
		// idempotent charge row prevents double billing.
		logger.Log.Error("dispatch: finalize failed, campaign left queued",
			zap.String("campaign_id", c.ID), zap.Error(err))
		metrics.CampaignsTotal.WithLabelValues("requeued").Inc()
		return
	}

	metrics.CampaignsTotal.WithLabelValues("sent").Inc()
	logger.Log.Info("dispatch: campaign sent",
		zap.String("campaign_id", c.ID),
		zap.Int("successes", successes), zap.Int64("tokens", tokens))
}

// sendOne applies the bounded per-send timeout so one stalled recipient
// cannot stall the whole cycle.
func (d *Dispatcher) sendOne(ctx context.Context, tenantID, phone, text string) error {
	sendCtx, cancel := context.WithTimeout(ctx, d.SendTimeout)
	defer cancel()
	return d.sender.Send(sendCtx, tenantID, phone, text)
}

func (d *Dispatcher) markFailed(ctx context.Context, id string) {
	if err := d.store.MarkFailed(ctx, id); err != nil {
		// Stays Queued; retried next cycle.
		logger.Log.Error("dispatch: status write failed",
			zap.String("campaign_id", id), zap.Error(err))
		metrics.CampaignsTotal.WithLabelValues("requeued").Inc()
		return
	}
	metrics.CampaignsTotal.WithLabelValues("failed").Inc()
}

func (d *Dispatcher) emit(ctx context.Context, c model.Campaign, phone string, result model.SendResult, detail string) {
	if d.events == nil {
		return
	}

	ev := model.SendEvent{
		CampaignID: c.ID,
		TenantID:   c.TenantID,
		Phone:      phone,
		Result:     result,
		Detail:     detail,
		SentAt:     d.now(),
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := d.events.Publish(ctx, []byte(c.TenantID), b); err != nil {
		logger.Log.Warn("dispatch: send event publish failed",
			zap.String("campaign_id", c.ID), zap.Error(err))
	}
}
