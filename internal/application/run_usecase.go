package application

import (
	"context"
	"time"

	"github.com/davarch/ci-reconciler/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Retrieval interface {
	GetJobs(ctx context.Context, target Target, scope domain.JobScope) domain.JobsByProject
	TagLister
}

type RunUseCase struct {
	log      *zap.Logger
	jobs     Retrieval
	dispatch *Dispatcher
	target   Target

	mail     domain.Mailer
	settings MailSettings
	report   domain.ReportSink
}

// NewRunUseCase wires one reconciliation pass. mail and report may be nil.
func NewRunUseCase(
	log *zap.Logger,
	jobs Retrieval,
	dispatch *Dispatcher,
	target Target,
	mail domain.Mailer,
	settings MailSettings,
	report domain.ReportSink,
) *RunUseCase {
	return &RunUseCase{
		log: log, jobs: jobs, dispatch: dispatch, target: target,
		mail: mail, settings: settings, report: report,
	}
}

// Plan retrieves manual jobs and classifies them without touching GitLab state.
func (uc *RunUseCase) Plan(ctx context.Context) domain.Decisions {
	jobs := uc.jobs.GetJobs(ctx, uc.target, domain.ScopeManual)
	return ValidateJobs(ctx, jobs, uc.jobs, uc.log)
}

func (uc *RunUseCase) RunOnce(ctx context.Context) (domain.Report, error) {
	r := domain.Report{RunID: uuid.NewString(), Started: time.Now()}
	log := uc.log.With(zap.String("run", r.RunID))

	decisions := uc.Plan(ctx)
	if len(decisions) == 0 {
		log.Info("no manual jobs found")
	}

	r.Outcomes = uc.dispatch.Dispatch(ctx, decisions)
	r.Finished = time.Now()

	if uc.mail == nil {
		if len(r.Outcomes) > 0 {
			log.Info("mail disabled, skipping reports", zap.Int("outcomes", len(r.Outcomes)))
		}
	} else {
		for _, o := range r.Outcomes {
			msg := BuildMessage(o.Job, o.Reason, uc.settings)
			if err := uc.mail.Send(ctx, msg); err != nil {
				log.Error("mail failed",
					zap.Uint64("job", uint64(o.Job.ID)),
					zap.Strings("to", msg.To),
					zap.Error(err),
				)
				continue
			}
			log.Debug("mail sent", zap.Uint64("job", uint64(o.Job.ID)), zap.Strings("to", msg.To))
		}
	}

	for _, o := range r.Outcomes {
		log.Info("job outcome",
			zap.Uint64("project", uint64(o.Job.ProjectID)),
			zap.Uint64("job", uint64(o.Job.ID)),
			zap.Stringer("status", o.Job.Status),
			zap.Stringer("reason", o.Reason),
		)
	}

	if uc.report != nil {
		if err := uc.report.Write(ctx, r); err != nil {
			return r, err
		}
	}

	return r, ctx.Err()
}
