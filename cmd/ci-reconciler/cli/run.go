package cli

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/davarch/ci-reconciler/internal/application"
	"github.com/davarch/ci-reconciler/internal/infrastructure/config"
	"github.com/davarch/ci-reconciler/internal/infrastructure/logging"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runEvery time.Duration

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile manual jobs once, or every --every interval",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		log := logging.New()
		defer func() { _ = log.Sync() }()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			log.Fatal("config", zap.Error(err))
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		uc, err := buildUseCase(ctx, cfg, log, true)
		if err != nil {
			log.Fatal("config", zap.Error(err))
		}

		log.Info("start",
			zap.String("version", version),
			zap.Uint64("group", cfg.GroupID),
			zap.Uint64("project", cfg.ProjectID),
			zap.String("gitlab", cfg.BaseURL),
			zap.Duration("max_wait", cfg.MaxWait()),
			zap.Bool("mail", cfg.SMTP.Enabled()),
			zap.String("report", cfg.ReportPath),
		)

		if runEvery <= 0 {
			r, err := uc.RunOnce(ctx)
			if err != nil {
				log.Error("run failed", zap.String("run", r.RunID), zap.Error(err))
				return
			}
			log.Info("run finished", zap.String("run", r.RunID), zap.Int("outcomes", len(r.Outcomes)))
			return
		}

		sched := application.NewScheduler(log, uc, runEvery, cfg.PauseFile)
		watchAndReload(ctx, cfgPath, log, sched)

		log.Info("scheduler", zap.Duration("every", runEvery), zap.String("pause_file", cfg.PauseFile))
		sched.Run(ctx)
	},
}

func init() {
	runCmd.Flags().DurationVar(&runEvery, "every", 0, "repeat the run at this interval (0 runs once)")
	rootCmd.AddCommand(runCmd)
}

// watchAndReload rebuilds the use case when the config file changes. A config
// that fails to load or wire keeps the previous use case in place.
func watchAndReload(ctx context.Context, cfgPath string, log *zap.Logger, sched *application.Scheduler) {
	if cfgPath == "" {
		return
	}

	dir := filepath.Dir(cfgPath)
	base := filepath.Base(cfgPath)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("fsnotify init failed", zap.Error(err))
		return
	}

	if err := w.Add(dir); err != nil {
		log.Warn("fsnotify add dir failed", zap.String("dir", dir), zap.Error(err))
		_ = w.Close()
		return
	}

	fire := func() {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			log.Warn("config reload failed", zap.Error(err))
			return
		}
		uc, err := buildUseCase(ctx, cfg, log, true)
		if err != nil {
			log.Warn("config reload failed", zap.Error(err))
			return
		}
		sched.Update(uc)
	}

	go func() {
		defer func() { _ = w.Close() }()

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}

				if filepath.Base(ev.Name) != base {
					continue
				}

				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					if timer == nil {
						timer = time.AfterFunc(300*time.Millisecond, fire)
					} else {
						timer.Reset(300 * time.Millisecond)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("fsnotify error", zap.Error(err))
			}
		}
	}()
}
