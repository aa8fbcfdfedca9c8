// Package delivery owns every read-modify-write sequence over a chat's
// plan: timer fires, on-demand requests and plan creation all go through
// the Service, serialized per chat so the same day is never delivered
// twice and no day is skipped under concurrent access.
//
// A plan only advances after SendMessage returned without error. A failed
// send leaves the stored plan untouched, so the pending date is retried at
// the next fire instead of being silently lost.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nadezhda-zhivchikova/erika-advent/internal/domain"
	"github.com/nadezhda-zhivchikova/erika-advent/internal/metrics"
	"github.com/nadezhda-zhivchikova/erika-advent/internal/scheduler"
	"github.com/nadezhda-zhivchikova/erika-advent/internal/store"
)

// Sender is the minimal transport interface the service needs.
// telegram.Sender implements it.
type Sender interface {
	SendMessage(chatID int64, text string) error
}

// GiftFunc maps a calendar date to its message text.
type GiftFunc func(date time.Time) string

// OnDemandStatus tells the front-end how an on-demand request ended.
type OnDemandStatus int

const (
	StatusDelivered OnDemandStatus = iota
	StatusRepeated
	StatusNotConfigured
)

const fireTimeout = 30 * time.Second

// Service reconciles plan state with timers and deliveries.
type Service struct {
	repo   store.Repo
	sender Sender
	gift   GiftFunc
	clock  domain.DeliveryClock
	log    *zap.Logger
	timers *scheduler.Timers

	mu    sync.Mutex
	locks map[int64]*sync.Mutex

	now func() time.Time
}

// New creates a delivery service. Timers start empty; call RecoverAll to
// re-derive them from the store.
func New(repo store.Repo, sender Sender, gift GiftFunc, clock domain.DeliveryClock, log *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		sender: sender,
		gift:   gift,
		clock:  clock,
		log:    log,
		timers: scheduler.NewTimers(),
		locks:  make(map[int64]*sync.Mutex),
		now:    time.Now,
	}
}

// userLock returns the mutex serializing all plan mutations for one chat.
func (s *Service) userLock(chatID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[chatID] = l
	}
	return l
}

// Rearm cancels any pending timer for the chat and arms a new one from the
// plan's next date. A fire time already in the past (missed while the
// process was down, or a same-day selection after the send time) is pushed
// forward to the first day still ahead of now; past the end of the window
// nothing is armed.
// Rearm never mutates the plan: only a delivery advances NextDate.
func (s *Service) Rearm(chatID int64, p *domain.Plan) {
	defer func() { metrics.ArmedTimers.Set(float64(s.timers.Len())) }()

	s.timers.Cancel(chatID)
	if p.Exhausted() {
		return
	}

	// A plan can lag several days behind after downtime; walk forward
	// until the fire time is actually in the future so a timer is never
	// armed in the past.
	now := s.now()
	day := p.NextDate
	fireAt := s.clock.FireAt(day)
	for !fireAt.After(now) {
		day = domain.NextDay(day)
		if day.After(p.EndDate) {
			return
		}
		fireAt = s.clock.FireAt(day)
	}

	s.timers.Schedule(chatID, fireAt, func() { s.handleFire(chatID) })
	s.log.Debug("timer armed",
		zap.Int64("chat_id", chatID),
		zap.Time("fire_at", fireAt),
	)
}

// handleFire runs on the timer goroutine. The store is authoritative: a
// concurrent on-demand delivery may already have advanced the plan, so the
// plan is reloaded and due is re-checked under the chat's lock.
func (s *Service) handleFire(chatID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	lock := s.userLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.repo.GetPlan(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		// Chat never finished setup or was overwritten; nothing to do.
		return
	}
	if err != nil {
		s.log.Error("load plan failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}

	if !p.Due(s.now(), s.clock) {
		s.Rearm(chatID, p)
		return
	}

	day := p.NextDate
	if err := s.send(chatID, s.gift(day), "scheduled"); err != nil {
		// Plan untouched: the rearm below targets the next day and this
		// date stays pending, retried at the next fire.
		s.Rearm(chatID, p)
		return
	}

	stored := *p
	p.AdvanceAfterDelivery(day)
	if err := s.repo.UpsertPlan(ctx, p); err != nil {
		s.log.Error("persist plan failed", zap.Int64("chat_id", chatID), zap.Error(err))
		// The store still holds the pre-advance plan; rearm from it so
		// the timer chain survives a transient store error. The next
		// fire may re-deliver today's date (at-least-once).
		s.Rearm(chatID, &stored)
		return
	}
	s.Rearm(chatID, p)
}

// OnDemand handles an explicit request for today's gift. A second request
// within the same calendar day replays the content without touching the
// plan; otherwise today's gift goes out and the plan records it, advancing
// NextDate only when the schedule had not already moved past today.
func (s *Service) OnDemand(ctx context.Context, chatID int64) (OnDemandStatus, error) {
	lock := s.userLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.repo.GetPlan(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return StatusNotConfigured, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load plan: %w", err)
	}

	today := s.clock.Today(s.now())
	if p.IsOnDemandRepeat(today) {
		text := repeatPreamble + s.gift(today)
		if err := s.send(chatID, text, "on_demand"); err != nil {
			return 0, err
		}
		return StatusRepeated, nil
	}

	text := fmt.Sprintf(freshPreambleFmt, s.clock) + s.gift(today)
	if err := s.send(chatID, text, "on_demand"); err != nil {
		return 0, err
	}

	p.AdvanceAfterDelivery(today)
	if err := s.repo.UpsertPlan(ctx, p); err != nil {
		return 0, fmt.Errorf("persist plan: %w", err)
	}
	s.Rearm(chatID, p)
	return StatusDelivered, nil
}

// CreatePlan replaces the chat's plan with a fresh window and arms its
// first timer. When today already falls inside the window, the first gift
// goes out immediately instead of waiting for the next fire time.
func (s *Service) CreatePlan(ctx context.Context, chatID int64, start, end time.Time) (*domain.Plan, error) {
	start, end = domain.DateOnly(start), domain.DateOnly(end)
	today := s.clock.Today(s.now())
	if err := domain.ValidateWindow(start, end, today); err != nil {
		return nil, err
	}

	lock := s.userLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	p := &domain.Plan{
		ChatID:    chatID,
		StartDate: start,
		EndDate:   end,
		NextDate:  domain.FirstDueDate(start, today),
		CreatedAt: s.now().UTC(),
	}

	if !start.After(today) && !end.Before(today) {
		if err := s.send(chatID, s.gift(today), "initial"); err == nil {
			p.AdvanceAfterDelivery(today)
		}
	}

	if err := s.repo.UpsertPlan(ctx, p); err != nil {
		return nil, fmt.Errorf("persist plan: %w", err)
	}
	metrics.PlansCreated.Inc()
	if n, err := s.repo.Count(ctx); err == nil {
		metrics.Subscribers.Set(float64(n))
	}
	s.Rearm(chatID, p)
	return p, nil
}

// RecoverAll re-derives every chat's timer from the store. This is the
// sole restart recovery: a fire missed while the process was down is
// pushed to the next day by Rearm, never backfilled.
func (s *Service) RecoverAll(ctx context.Context) error {
	plans, err := s.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load plans: %w", err)
	}
	for i := range plans {
		p := plans[i]
		s.Rearm(p.ChatID, &p)
	}
	metrics.Subscribers.Set(float64(len(plans)))
	s.log.Info("timers recovered",
		zap.Int("plans", len(plans)),
		zap.Int("armed", s.timers.Len()),
	)
	return nil
}

// Stop cancels every pending timer.
func (s *Service) Stop() {
	s.timers.StopAll()
	metrics.ArmedTimers.Set(0)
}

func (s *Service) send(chatID int64, text, kind string) error {
	deliveryID := uuid.NewString()
	if err := s.sender.SendMessage(chatID, text); err != nil {
		metrics.DeliveriesTotal.WithLabelValues(kind, "error").Inc()
		s.log.Error("send failed",
			zap.String("delivery_id", deliveryID),
			zap.Int64("chat_id", chatID),
			zap.String("kind", kind),
			zap.Error(err),
		)
		return err
	}
	metrics.DeliveriesTotal.WithLabelValues(kind, "ok").Inc()
	s.log.Info("gift delivered",
		zap.String("delivery_id", deliveryID),
		zap.Int64("chat_id", chatID),
		zap.String("kind", kind),
	)
	return nil
}
