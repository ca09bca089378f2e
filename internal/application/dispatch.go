package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/davarch/ci-reconciler/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultMaxWait      = 30 * time.Second
)

var errStillPending = errors.New("job still pending")

type JobActions interface {
	Play(ctx context.Context, job domain.JobInfo) (domain.JobInfo, error)
	Cancel(ctx context.Context, job domain.JobInfo) (domain.JobInfo, error)
	Status(ctx context.Context, job domain.JobInfo) domain.JobScope
}

type Dispatcher struct {
	actions JobActions
	log     *zap.Logger
	width   int
	every   time.Duration
	maxWait time.Duration
}

func NewDispatcher(actions JobActions, log *zap.Logger, width int, every, maxWait time.Duration) *Dispatcher {
	if width <= 0 {
		width = DefaultWidth
	}
	if every <= 0 {
		every = DefaultPollInterval
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &Dispatcher{actions: actions, log: log, width: width, every: every, maxWait: maxWait}
}

type dispatched struct {
	original domain.JobInfo
	current  domain.JobInfo
	at       time.Time
}

// Dispatch plays or cancels every decided job and follows each successful
// dispatch until it settles or the max wait runs out. A job holds its slot of
// the fan-out width from dispatch to settlement. Every job ends up in exactly
// one outcome; the order is unspecified.
func (d *Dispatcher) Dispatch(ctx context.Context, decisions domain.Decisions) []domain.Outcome {
	var (
		mu       sync.Mutex
		outcomes = make([]domain.Outcome, 0, len(decisions))
	)
	record := func(o domain.Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}

	g := new(errgroup.Group)
	g.SetLimit(d.width)
	for job, dec := range decisions {
		job, dec := job, dec
		g.Go(func() error {
			current, err := d.dispatch(ctx, job, dec)
			if err != nil {
				var ae *ActionError
				failed := job.WithStatus(domain.ScopeInvalid)
				if errors.As(err, &ae) {
					failed = ae.Job
				}
				record(domain.Outcome{Job: failed, Reason: failureReason(decisions, job)})
				return nil
			}

			w := dispatched{original: job, current: current, at: time.Now()}
			record(d.monitor(ctx, w, dec.Reason))
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (d *Dispatcher) dispatch(ctx context.Context, job domain.JobInfo, dec domain.Decision) (domain.JobInfo, error) {
	fields := []zap.Field{
		zap.Uint64("project", uint64(job.ProjectID)),
		zap.Uint64("job", uint64(job.ID)),
		zap.Uint64("pipeline", uint64(job.PipelineID)),
	}

	var (
		out domain.JobInfo
		err error
	)
	if dec.Play {
		out, err = d.actions.Play(ctx, job)
	} else {
		out, err = d.actions.Cancel(ctx, job)
		fields = append(fields, zap.Stringer("reason", dec.Reason))
	}

	if err != nil {
		d.log.Error("dispatch failed", append(fields, zap.Bool("play", dec.Play), zap.Error(err))...)
		return domain.JobInfo{}, err
	}

	d.log.Info("dispatched", append(fields, zap.Bool("play", dec.Play))...)
	return out, nil
}

// monitor polls the job at a fixed interval while it is pending. The budget
// counts from the moment of dispatch, not from the first poll.
func (d *Dispatcher) monitor(ctx context.Context, w dispatched, recorded domain.MailReason) domain.Outcome {
	remaining := d.maxWait - time.Since(w.at)
	if remaining <= 0 {
		remaining = time.Nanosecond
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.every
	bo.MaxInterval = d.every
	bo.Multiplier = 1
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = remaining

	status := w.current.Status
	op := func() error {
		status = d.actions.Status(ctx, w.original)
		if status.IsPending() {
			return errStillPending
		}
		return nil
	}

	job := w.current
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		d.log.Warn("stopped waiting for job",
			zap.Uint64("job", uint64(job.ID)),
			zap.Stringer("last_status", status),
			zap.Duration("max_wait", d.maxWait),
			zap.Error(err),
		)
		return domain.Outcome{Job: job.WithStatus(status), Reason: domain.MaxWaitElapsed}
	}

	job = job.WithStatus(status)
	if status == domain.ScopeCanceled && recorded.IsSet() {
		return domain.Outcome{Job: job, Reason: recorded}
	}
	return domain.Outcome{Job: job, Reason: domain.StatusReason(status)}
}

// failureReason maps a failed dispatch to its report reason. A job that was
// dispatched without a decision is a programming error.
func failureReason(decisions domain.Decisions, job domain.JobInfo) domain.MailReason {
	dec, ok := decisions[job]
	if !ok {
		panic(fmt.Sprintf("dispatched job %s has no decision", job))
	}
	if dec.Play {
		return domain.ErrorToPlay
	}
	return domain.ErrorToCancel
}
