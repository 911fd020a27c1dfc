package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/makkenzo/license-issuer-api/internal/config"
	"github.com/makkenzo/license-issuer-api/internal/domain/license"
	"github.com/makkenzo/license-issuer-api/internal/mailer"
	"github.com/makkenzo/license-issuer-api/internal/tasks"
	"go.uber.org/zap"
)

func RedisConnOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewServeMux registers every task handler the worker runs.
func NewServeMux(cfg *config.WorkerConfig, repo license.Repository, m mailer.Mailer, deliveries tasks.DeliveryScheduler, logger *zap.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()

	deliveryHandler := tasks.NewLicenseDeliveryHandler(repo, m, logger)
	mux.HandleFunc(tasks.TypeLicenseDeliver, deliveryHandler.ProcessTask)

	lapsedHandler := tasks.NewLapsedLicenseHandler(repo, logger)
	mux.HandleFunc(tasks.TypeLapsedScan, lapsedHandler.ProcessTask)

	sweepHandler := tasks.NewDeliverySweepHandler(repo, deliveries, cfg.DeliveryGrace, logger)
	mux.HandleFunc(tasks.TypeDeliverySweep, sweepHandler.ProcessTask)

	return mux
}

// RunWorkers starts the asynq server and scheduler and blocks until ctx is done.
func RunWorkers(ctx context.Context, cfg *config.Config, repo license.Repository, m mailer.Mailer, deliveries tasks.DeliveryScheduler, logger *zap.Logger) error {
	redisConnOpts := RedisConnOpt(&cfg.Redis)

	srv := asynq.NewServer(
		redisConnOpts,
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				tasks.QueueCritical: 6,
				tasks.QueueDefault:  3,
				tasks.QueueLow:      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				log := logger.Named("AsynqServerErrorHandler")
				log.Error("Asynq task processing failed",
					zap.String("task_type", task.Type()),
					zap.ByteString("payload", task.Payload()),
					zap.Int("retried", retried),
					zap.Int("max_retry", maxRetry),
					zap.Error(err),
				)
			}),
			Logger: NewAsynqLoggerAdapter(logger.Named("AsynqServer")),
		},
	)

	logger.Info("Starting Asynq Server...")
	if err := srv.Start(NewServeMux(&cfg.Worker, repo, m, deliveries, logger)); err != nil {
		return fmt.Errorf("asynq server error: %w", err)
	}

	scheduler := asynq.NewScheduler(
		redisConnOpts,
		&asynq.SchedulerOpts{
			Logger: NewAsynqLoggerAdapter(logger.Named("AsynqScheduler")),
		},
	)

	lapsedScanTask, err := tasks.NewLapsedScanTask()
	if err != nil {
		srv.Shutdown()
		return fmt.Errorf("scheduler task creation error: %w", err)
	}

	entryID, err := scheduler.Register(cfg.Worker.LapsedScan, lapsedScanTask)
	if err != nil {
		srv.Shutdown()
		return fmt.Errorf("scheduler registration error: %w", err)
	}
	logger.Info("Registered periodic lapsed license scan", zap.String("entry_id", entryID), zap.String("schedule", cfg.Worker.LapsedScan))

	sweepTask, err := tasks.NewDeliverySweepTask()
	if err != nil {
		srv.Shutdown()
		return fmt.Errorf("scheduler task creation error: %w", err)
	}
	entryID, err = scheduler.Register(cfg.Worker.DeliverySweep, sweepTask)
	if err != nil {
		srv.Shutdown()
		return fmt.Errorf("scheduler registration error: %w", err)
	}
	logger.Info("Registered periodic delivery sweep", zap.String("entry_id", entryID), zap.String("schedule", cfg.Worker.DeliverySweep))

	logger.Info("Starting Asynq Scheduler...")
	if err := scheduler.Start(); err != nil {
		srv.Shutdown()
		return fmt.Errorf("asynq scheduler error: %w", err)
	}

	<-ctx.Done()

	logger.Info("Shutting down Asynq Scheduler...")
	scheduler.Shutdown()
	logger.Info("Asynq Scheduler stopped.")

	logger.Info("Shutting down Asynq Server...")
	srv.Shutdown()
	logger.Info("Asynq Server stopped.")

	return nil
}

type asynqLoggerAdapter struct {
	logger *zap.Logger
}

func NewAsynqLoggerAdapter(logger *zap.Logger) *asynqLoggerAdapter {
	return &asynqLoggerAdapter{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (l *asynqLoggerAdapter) Debug(args ...interface{}) {
	l.logger.Debug(fmt.Sprint(args...))
}
func (l *asynqLoggerAdapter) Info(args ...interface{}) {
	l.logger.Info(fmt.Sprint(args...))
}
func (l *asynqLoggerAdapter) Warn(args ...interface{}) {
	l.logger.Warn(fmt.Sprint(args...))
}
func (l *asynqLoggerAdapter) Error(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
}
func (l *asynqLoggerAdapter) Fatal(args ...interface{}) {
	l.logger.Fatal(fmt.Sprint(args...))
}
