package cli

import (
	"context"
	"fmt"

	"github.com/davarch/ci-reconciler/internal/application"
	"github.com/davarch/ci-reconciler/internal/domain"
	"github.com/davarch/ci-reconciler/internal/infrastructure/cache_fs"
	"github.com/davarch/ci-reconciler/internal/infrastructure/config"
	"github.com/davarch/ci-reconciler/internal/infrastructure/gitlab_http"
	"github.com/davarch/ci-reconciler/internal/infrastructure/mail_smtp"
	"go.uber.org/zap"
)

// buildUseCase wires a RunUseCase from cfg. The SMTP server is only probed
// when withMail is set.
func buildUseCase(ctx context.Context, cfg config.Config, log *zap.Logger, withMail bool) (*application.RunUseCase, error) {
	gl := gitlab_http.New(cfg.BaseURL, cfg.PrivateToken, cfg.Timeout(), cfg.RequestsPerSecond)
	jobs := application.NewRetriever(gl, log, cfg.Concurrency, cfg.ProductionTagKey)
	dispatch := application.NewDispatcher(jobs, log, cfg.Concurrency, cfg.Poll(), cfg.MaxWait())

	var mail domain.Mailer
	if withMail && cfg.SMTP.Enabled() {
		m, err := mail_smtp.New(ctx, mail_smtp.Settings{
			Server:  cfg.SMTP.Server,
			User:    cfg.SMTP.User,
			Pass:    cfg.SMTP.Pass,
			From:    cfg.SMTP.From,
			To:      cfg.SMTP.To,
			Timeout: cfg.Timeout(),
		}, log)
		if err != nil {
			return nil, fmt.Errorf("smtp: %w", err)
		}
		mail = m
	}

	var report domain.ReportSink
	if cfg.ReportPath != "" {
		report = cache_fs.New(cfg.ReportPath)
	}

	target := application.Target{
		Group:   domain.GroupID(cfg.GroupID),
		Project: domain.ProjectID(cfg.ProjectID),
	}
	settings := application.MailSettings{To: cfg.SMTP.To, SubjectPrefix: cfg.SMTP.Subject}

	return application.NewRunUseCase(log, jobs, dispatch, target, mail, settings, report), nil
}
