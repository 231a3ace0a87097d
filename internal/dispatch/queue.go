// Package dispatch delivers composed intros to campaign providers through a
// rate-limited, retrying queue.
package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

// Progress is the queue telemetry reported after every state change.
type Progress struct {
	Completed int `json:"completed"`
	InFlight  int `json:"in_flight"`
	Queued    int `json:"queued"`
	Total     int `json:"total"`
}

// ProgressFunc observes a batch.
type ProgressFunc func(Progress)

// Queue is one provider channel. A Queue may run several batches in
// sequence; its limiter state carries over between them.
type Queue struct {
	sender  Sender
	cfg     config.CampaignConfig
	limits  Limits
	retry   resilience.RetryConfig
	windows *windowLimiter
	fixed   *rate.Limiter

	mu       sync.Mutex
	progress Progress
	observer ProgressFunc
}

// NewQueue creates a channel for sender. retry governs rate-limit retries;
// its ShouldRetry is replaced so only rate-limit responses are retried.
func NewQueue(sender Sender, cfg config.CampaignConfig, limits Limits, retry resilience.RetryConfig) *Queue {
	if limits.MaxInFlight <= 0 {
		limits.MaxInFlight = 5
	}
	if limits.CallTimeout <= 0 {
		limits.CallTimeout = DefaultCallTimeout
	}
	q := &Queue{
		sender:  sender,
		cfg:     cfg,
		limits:  limits,
		retry:   retry,
		windows: newWindowLimiter(limits.Windows),
	}
	if limits.RPS > 0 {
		q.fixed = rate.NewLimiter(rate.Limit(limits.RPS), 1)
	}
	q.retry.ShouldRetry = resilience.IsRateLimited
	return q
}

// Run sends every lead and returns the outcome breakdown. onProgress is
// registered for this batch only and is released before Run returns. On
// cancellation, leads not yet admitted are left out and the summary covers
// the ones that completed.
func (q *Queue) Run(ctx context.Context, leads []Lead, onProgress ProgressFunc) (*model.DispatchSummary, error) {
	if err := q.sender.ValidateConfig(q.cfg); err != nil {
		return nil, err
	}

	q.mu.Lock()
	q.progress = Progress{Queued: len(leads), Total: len(leads)}
	q.observer = onProgress
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.observer = nil
		q.mu.Unlock()
	}()

	log := zap.L().With(zap.String("provider", q.sender.Name()), zap.Int("total", len(leads)))
	log.Info("dispatch: starting batch")

	records := make([]*model.SendRecord, len(leads))
	var g errgroup.Group
	g.SetLimit(q.limits.MaxInFlight)
	for i, lead := range leads {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			records[i] = q.send(ctx, lead)
			return nil
		})
	}
	_ = g.Wait()

	sum := &model.DispatchSummary{Total: len(leads), Aborted: ctx.Err() != nil}
	for _, r := range records {
		if r == nil {
			continue
		}
		switch r.Outcome {
		case model.SendNew:
			sum.New++
		case model.SendExisting:
			sum.Existing++
		default:
			sum.NeedsAttention++
		}
		sum.Records = append(sum.Records, *r)
	}

	log.Info("dispatch: batch finished",
		zap.Int("new", sum.New),
		zap.Int("existing", sum.Existing),
		zap.Int("needs_attention", sum.NeedsAttention),
		zap.Bool("aborted", sum.Aborted),
	)
	if sum.Aborted {
		return sum, ctx.Err()
	}
	return sum, nil
}

// send delivers one lead, retrying rate-limit responses. It returns nil when
// ctx ended before the lead was admitted or while it waited out a rate limit.
func (q *Queue) send(ctx context.Context, lead Lead) *model.SendRecord {
	rec := &model.SendRecord{
		Fingerprint: lead.Fingerprint,
		Side:        lead.Side,
		Email:       lead.Email,
		Provider:    q.sender.Name(),
	}
	if lead.Email == "" || lead.Intro == "" {
		q.update(func(p *Progress) { p.Queued--; p.Completed++ })
		rec.Outcome = model.SendNeedsAttention
		rec.Detail = "lead has no email or intro"
		rec.ErrorType = "permanent"
		return rec
	}
	if campaignFor(q.cfg, lead.Side) == "" {
		q.update(func(p *Progress) { p.Queued--; p.Completed++ })
		rec.Outcome = model.SendNeedsAttention
		rec.Detail = "no campaign configured for " + string(lead.Side)
		rec.ErrorType = "permanent"
		return rec
	}

	cfg := q.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		rec.Retries = attempt
		q.windows.Pause(delay)
		resilience.RetryLogger(q.sender.Name(), "send_lead")(attempt, err, delay)
	}

	// ctx gates admission and backoff only. A request already issued runs to
	// completion under its own timeout so its outcome is known.
	var (
		admitted bool
		res      SendResult
		err      error
	)
	_, _ = resilience.DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		if aerr := q.admit(ctx); aerr != nil {
			return struct{}{}, aerr
		}
		if !admitted {
			admitted = true
			q.update(func(p *Progress) { p.Queued--; p.InFlight++ })
		}
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.limits.CallTimeout)
		defer cancel()
		res, err = q.sender.SendLead(callCtx, q.cfg, lead)
		return struct{}{}, err
	})
	if !admitted {
		return nil
	}
	if ctx.Err() != nil && resilience.IsRateLimited(err) {
		// Stopped while waiting out a rate limit: the lead was never
		// delivered or rejected, so it stays pending.
		q.update(func(p *Progress) { p.InFlight--; p.Queued++ })
		return nil
	}
	q.update(func(p *Progress) { p.InFlight--; p.Completed++ })

	switch {
	case err != nil:
		rec.Outcome = model.SendNeedsAttention
		rec.Detail = err.Error()
		rec.ErrorType = resilience.ClassifyError(err)
		if resilience.IsRateLimited(err) {
			rec.ErrorType = "rate_limited"
		}
		zap.L().Warn("dispatch: lead needs attention",
			zap.String("fingerprint", lead.Fingerprint),
			zap.String("error_type", rec.ErrorType),
			zap.Error(err),
		)
	case res.Status == StatusCreated:
		rec.Outcome = model.SendNew
	case res.Status == StatusExisting:
		rec.Outcome = model.SendExisting
	default:
		rec.Outcome = model.SendNeedsAttention
		rec.Detail = res.Detail
		rec.ErrorType = "permanent"
	}
	return rec
}

// admit blocks until the provider's ceilings allow one more request.
func (q *Queue) admit(ctx context.Context) error {
	if err := q.windows.Wait(ctx); err != nil {
		return err
	}
	if q.fixed != nil {
		return q.fixed.Wait(ctx)
	}
	return nil
}

func (q *Queue) update(fn func(*Progress)) {
	q.mu.Lock()
	fn(&q.progress)
	p, obs := q.progress, q.observer
	q.mu.Unlock()
	if obs != nil {
		obs(p)
	}
}
