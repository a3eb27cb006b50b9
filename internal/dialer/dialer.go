// Package dialer drives outbound campaigns: it selects due contacts on a
// ticker, enqueues one dial task per contact and settles call outcomes with
// the campaign retry policy.
package dialer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/pkg/logger"
	"github.com/hallcall/hallcall-api/pkg/metrics"
	"github.com/hallcall/hallcall-api/pkg/queue"
	"github.com/hallcall/hallcall-api/pkg/voice"
)

// TaskDial is the asynq task type for a single outbound call.
const TaskDial = "campaign:dial"

// QueueName is the asynq queue dial tasks go to.
const QueueName = "dialer"

// Store is the persistence the dialer needs. *store.Store implements it.
type Store interface {
	RunningCampaigns(ctx context.Context) ([]models.CampaignGroup, error)
	CampaignByID(ctx context.Context, id string) (*models.CampaignGroup, error)
	CompleteCampaign(ctx context.Context, id string) (bool, error)
	QuotaExhausted(ctx context.Context, userID string) (bool, error)
	DueContacts(ctx context.Context, campaignID string, now time.Time, limit int64) ([]models.Contact, error)
	CountContacts(ctx context.Context, campaignID string, statuses ...string) (int64, error)
	ContactByID(ctx context.Context, id string) (*models.Contact, error)
	ClaimContact(ctx context.Context, id string) (*models.Contact, bool, error)
	SettleContact(ctx context.Context, id string, set bson.M) (*models.Contact, bool, error)
	AttachConversation(ctx context.Context, contactID, conversationID string) error
	StaleCalling(ctx context.Context, campaignID string, cutoff time.Time) ([]models.Contact, error)
	Agent(ctx context.Context, userID, id string) (*models.Agent, error)
	PhoneNumber(ctx context.Context, userID, id string) (*models.PhoneNumber, error)
}

// Caller places outbound calls. *voice.Client implements it.
type Caller interface {
	PlaceOutboundCall(ctx context.Context, call voice.OutboundCall) (*voice.OutboundResult, error)
}

type Config struct {
	Interval    time.Duration
	CallsPerSec int
	BatchSize   int
	LockTTL     time.Duration
	// Contacts left in calling longer than this are treated as unanswered.
	StaleAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.CallsPerSec <= 0 {
		c.CallsPerSec = 2
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 5 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Minute
	}
	return c
}

type Dialer struct {
	store   Store
	redis   *redis.Client
	queue   queue.Enqueuer
	caller  Caller
	limiter *rate.Limiter
	cfg     Config
	log     *zap.Logger
	now     func() time.Time
}

func New(st Store, rdb *redis.Client, q queue.Enqueuer, caller Caller, cfg Config) *Dialer {
	cfg = cfg.withDefaults()
	return &Dialer{
		store:   st,
		redis:   rdb,
		queue:   q,
		caller:  caller,
		limiter: rate.NewLimiter(rate.Limit(cfg.CallsPerSec), cfg.CallsPerSec),
		cfg:     cfg,
		log:     logger.Named("dialer"),
		now:     time.Now,
	}
}

type dialPayload struct {
	CampaignID string `json:"campaign_id"`
	ContactID  string `json:"contact_id"`
}

// Run ticks until ctx is cancelled.
func (d *Dialer) Run(ctx context.Context) {
	d.log.Info("dialer started", zap.Duration("interval", d.cfg.Interval))
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := d.Tick(ctx); err != nil {
				d.log.Error("dialer tick failed", zap.Error(err))
			}
		case <-ctx.Done():
			d.log.Info("dialer stopped")
			return
		}
	}
}

// Tick runs one dialing pass over every running campaign and returns the
// number of dial tasks enqueued.
func (d *Dialer) Tick(ctx context.Context) (int, error) {
	campaigns, err := d.store.RunningCampaigns(ctx)
	if err != nil {
		return 0, fmt.Errorf("list running campaigns: %w", err)
	}

	total := 0
	for i := range campaigns {
		n, err := d.tickCampaign(ctx, &campaigns[i])
		if err != nil {
			d.log.Error("campaign tick failed", zap.String("campaign_id", campaigns[i].ID), zap.Error(err))
			continue
		}
		total += n
	}
	return total, nil
}

func (d *Dialer) tickCampaign(ctx context.Context, c *models.CampaignGroup) (int, error) {
	now := d.now()
	log := d.log.With(logger.Tenant(c.UserID, zap.String("campaign_id", c.ID))...)

	if err := d.reconcileStale(ctx, c, now); err != nil {
		log.Warn("stale contact reconciliation failed", zap.Error(err))
	}

	if !InWindow(c, now) {
		log.Debug("campaign outside calling window")
		return 0, nil
	}

	exhausted, err := d.store.QuotaExhausted(ctx, c.UserID)
	if err != nil {
		return 0, fmt.Errorf("quota: %w", err)
	}
	if exhausted {
		log.Info("minute quota exhausted, campaign held")
		return 0, nil
	}

	calling, err := d.store.CountContacts(ctx, c.ID, models.ContactCalling)
	if err != nil {
		return 0, err
	}
	slots := Capacity(c.MaxConcurrent, int(calling), d.cfg.BatchSize)
	if slots == 0 {
		return 0, nil
	}

	due, err := d.store.DueContacts(ctx, c.ID, now, int64(slots))
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		if _, err := d.completeIfDone(ctx, c.ID); err != nil {
			log.Warn("campaign completion check failed", zap.Error(err))
		}
		return 0, nil
	}

	enqueued := 0
	for _, contact := range due {
		ok, err := d.enqueue(ctx, c, &contact)
		if err != nil {
			log.Error("failed to enqueue dial", zap.String("contact_id", contact.ID), zap.Error(err))
			continue
		}
		if ok {
			enqueued++
		}
	}
	if enqueued > 0 {
		log.Info("dial tasks enqueued", zap.Int("count", enqueued))
	}
	return enqueued, nil
}

func lockKey(campaignID, contactID string) string {
	return fmt.Sprintf("campaign:%s:contact:%s", campaignID, contactID)
}

func (d *Dialer) enqueue(ctx context.Context, c *models.CampaignGroup, contact *models.Contact) (bool, error) {
	key := lockKey(c.ID, contact.ID)
	taken, err := d.redis.SetNX(ctx, key, "queued", d.cfg.LockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("lock contact: %w", err)
	}
	if !taken {
		return false, nil
	}

	payload, _ := json.Marshal(dialPayload{CampaignID: c.ID, ContactID: contact.ID})
	_, err = d.queue.Enqueue(ctx, queue.Task{Type: TaskDial, Payload: payload}, queue.EnqueueOptions{
		TaskID:   fmt.Sprintf("dial:%s:%d", contact.ID, contact.Attempts),
		Queue:    QueueName,
		MaxRetry: 1,
		Timeout:  time.Minute,
	})
	if errors.Is(err, queue.ErrDuplicate) {
		return false, nil
	}
	if err != nil {
		d.redis.Del(ctx, key)
		return false, err
	}
	metrics.RecordDialEnqueued(c.ID)
	return true, nil
}

func (d *Dialer) release(ctx context.Context, campaignID, contactID string) {
	if err := d.redis.Del(ctx, lockKey(campaignID, contactID)).Err(); err != nil {
		d.log.Warn("failed to release contact lock", zap.String("contact_id", contactID), zap.Error(err))
	}
}

// reconcileStale settles contacts whose outcome never arrived.
func (d *Dialer) reconcileStale(ctx context.Context, c *models.CampaignGroup, now time.Time) error {
	stale, err := d.store.StaleCalling(ctx, c.ID, now.Add(-d.cfg.StaleAfter))
	if err != nil {
		return err
	}
	for _, contact := range stale {
		if err := d.ReportOutcome(ctx, contact.ID, Outcome{Disposition: DispositionTimeout}); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dialer) completeIfDone(ctx context.Context, campaignID string) (bool, error) {
	open, err := d.store.CountContacts(ctx, campaignID, models.ContactPending, models.ContactCalling)
	if err != nil || open > 0 {
		return false, err
	}
	done, err := d.store.CompleteCampaign(ctx, campaignID)
	if err != nil || !done {
		return false, err
	}
	d.log.Info("campaign completed", zap.String("campaign_id", campaignID))
	d.publish(ctx, Event{Type: EventCampaignCompleted, CampaignID: campaignID, Status: models.CampaignCompleted})
	return true, nil
}

// Capacity is how many new calls a campaign may start: max_concurrent minus
// the calls in flight, bounded by the batch size. Zero max_concurrent means
// one call at a time.
func Capacity(maxConcurrent, calling, batch int) int {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	n := maxConcurrent - calling
	if n > batch {
		n = batch
	}
	if n < 0 {
		return 0
	}
	return n
}

// InWindow reports whether now falls inside the campaign calling window,
// evaluated in the campaign time zone. Days use 0 for Sunday.
func InWindow(c *models.CampaignGroup, now time.Time) bool {
	loc := time.UTC
	if c.Timezone != "" {
		if l, err := time.LoadLocation(c.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)

	if len(c.Days) > 0 {
		today := int(local.Weekday())
		allowed := false
		for _, day := range c.Days {
			if day == today {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	minute := local.Hour()*60 + local.Minute()
	if start, ok := clockMinutes(c.WindowStart); ok && minute < start {
		return false
	}
	if end, ok := clockMinutes(c.WindowEnd); ok && minute >= end {
		return false
	}
	return true
}

func clockMinutes(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
