package vk_longpoll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jdelaire/vkbot/adapters/vk_api"
	"github.com/jdelaire/vkbot/core"
	"github.com/jdelaire/vkbot/core/metrics"
)

// DefaultWait is the long-poll wait in seconds. VK caps it at 90.
const DefaultWait = 25

// API is the part of vk_api.Client the poller needs.
type API interface {
	GroupByID(ctx context.Context) (*vk_api.Group, error)
	GetLongPollServer(ctx context.Context, groupID int64) (*vk_api.LongPollServer, error)
	LongPoll(ctx context.Context, server, key, ts string, wait int) (*vk_api.LongPollResponse, error)
}

// Dispatcher receives event batches. core.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, events []core.Event) error
	Seal()
}

// Config configures a Poller.
type Config struct {
	// GroupID is the community id. Zero resolves it from the token.
	GroupID int64
	// Wait is the long-poll wait in seconds.
	Wait    int
	Backoff BackoffConfig
}

// Poller long-polls the VK Bots Long Poll API and feeds batches to a
// Dispatcher. It owns the Session.
type Poller struct {
	api        API
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    metrics.Recorder

	groupID int64
	wait    int
	backoff BackoffConfig
	rng     *rand.Rand
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) bool

	session Session
	// pending is a recovery that still needs a successful negotiation.
	pending Outcome
}

var _ core.Receiver = (*Poller)(nil)

// New creates a Poller.
func New(api API, dispatcher Dispatcher, logger *slog.Logger, cfg Config) *Poller {
	if cfg.Wait <= 0 {
		cfg.Wait = DefaultWait
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoff
	}
	return &Poller{
		api:        api,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    metrics.Noop{},
		groupID:    cfg.GroupID,
		wait:       cfg.Wait,
		backoff:    cfg.Backoff,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// WithMetrics sets the metrics recorder.
func (p *Poller) WithMetrics(m metrics.Recorder) *Poller {
	if m != nil {
		p.metrics = m
	}
	return p
}

// Start negotiates a session and polls until ctx is cancelled. It returns
// an error only when the initial setup fails permanently (for example an
// invalid token).
//
// The cursor advances as soon as a response arrives, before handlers for
// that batch finish, so a crash can lose events that were already received.
func (p *Poller) Start(ctx context.Context) error {
	if p.groupID == 0 {
		err := p.retry(ctx, "resolve group", func() error {
			g, err := p.api.GroupByID(ctx)
			if err != nil {
				return err
			}
			p.groupID = g.ID
			return nil
		})
		if err != nil {
			return stopErr(ctx, err)
		}
	}

	err := p.retry(ctx, "negotiate long-poll session", func() error {
		return p.negotiate(ctx)
	})
	if err != nil {
		return stopErr(ctx, err)
	}

	p.dispatcher.Seal()
	p.logger.Info("vk long-poll receiver started", "group_id", p.groupID, "wait", p.wait)

	attempt := 0
	for {
		if ctx.Err() != nil {
			p.logger.Info("vk long-poll receiver stopped")
			return nil
		}

		if err := p.step(ctx); err != nil {
			if ctx.Err() != nil {
				p.logger.Info("vk long-poll receiver stopped")
				return nil
			}
			attempt++
			delay := NextBackoffDelay(p.backoff, attempt, p.rng)
			p.logger.Error("poll error", "error", err, "attempt", attempt, "retry_in", delay)
			if !p.sleep(ctx, delay) {
				p.logger.Info("vk long-poll receiver stopped")
				return nil
			}
			continue
		}
		attempt = 0
	}
}

// negotiate fetches a fresh server, key and cursor.
func (p *Poller) negotiate(ctx context.Context) error {
	p.session.State = StateNegotiating
	lp, err := p.api.GetLongPollServer(ctx, p.groupID)
	if err != nil {
		return err
	}
	p.session.reset(lp, p.now())
	p.logger.Info("long-poll session negotiated", "server", lp.Server, "cursor", p.session.Cursor)
	return nil
}

// step performs one poll (or a pending recovery) and applies its outcome.
func (p *Poller) step(ctx context.Context) error {
	if p.pending != OutcomeOK {
		return p.recover(ctx, p.pending)
	}

	start := time.Now()
	resp, err := p.api.LongPoll(ctx, p.session.Server, p.session.Key, p.session.Cursor, p.wait)
	if err != nil {
		p.metrics.RecordPoll(ctx, "error", time.Since(start))
		return fmt.Errorf("long poll: %w", err)
	}
	outcome, err := classify(resp)
	if err != nil {
		p.metrics.RecordPoll(ctx, "error", time.Since(start))
		return err
	}
	p.metrics.RecordPoll(ctx, outcome.String(), time.Since(start))

	switch outcome {
	case OutcomeOK:
		p.session.advance(string(resp.TS))
		if len(resp.Updates) == 0 {
			return nil
		}
		p.logger.Debug("received updates", "count", len(resp.Updates), "cursor", p.session.Cursor)
		return p.dispatcher.Dispatch(ctx, resp.Updates)

	case OutcomeHistoryGap:
		p.logger.Warn("long-poll history gap, some events were lost",
			"cursor", p.session.Cursor, "corrected_cursor", string(resp.TS))
		p.session.advance(string(resp.TS))
		p.metrics.RecordRecovery(ctx, outcome.String())
		return nil

	default:
		p.pending = outcome
		return p.recover(ctx, outcome)
	}
}

// recover renegotiates after a key expiry or full loss. On failure the
// recovery stays pending and is retried by the next step.
func (p *Poller) recover(ctx context.Context, outcome Outcome) error {
	p.session.State = StateNegotiating
	lp, err := p.api.GetLongPollServer(ctx, p.groupID)
	if err != nil {
		return fmt.Errorf("renegotiate after %s: %w", outcome, err)
	}

	switch outcome {
	case OutcomeKeyExpired:
		p.session.refreshKey(lp, p.now())
	case OutcomeFullyLost:
		p.session.reset(lp, p.now())
	}
	p.pending = OutcomeOK
	p.metrics.RecordRecovery(ctx, outcome.String())
	p.logger.Info("long-poll session recovered", "reason", outcome.String(), "server", lp.Server, "cursor", p.session.Cursor)
	return nil
}

// retry runs fn until it succeeds, ctx ends, or fn fails with a permanent
// API error.
func (p *Poller) retry(ctx context.Context, what string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var apiErr *vk_api.APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return fmt.Errorf("%s: %w", what, err)
		}
		delay := NextBackoffDelay(p.backoff, attempt, p.rng)
		p.logger.Error(what+" failed", "error", err, "attempt", attempt, "retry_in", delay)
		if !p.sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

func stopErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
