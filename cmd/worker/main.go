package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"agrivest/internal/app"
	"agrivest/internal/business/cashflow"
	"agrivest/internal/business/errs"
	"agrivest/pkg/config"
	"agrivest/schedule"
)

func main() {
	configPath := flag.String("config", os.Getenv("AGRIVEST_CONFIG"), "path to the YAML settings file")
	prefetch := flag.Int("prefetch", 4, "unacked cashflow_verified deliveries per worker")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("> failed to load .env")
	}

	settings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("> invalid settings: %v", err)
	}
	// workers always log json
	settings.Log.Format = "json"
	config.SetupLogger(settings.Log)

	config.InitDB(settings.Database)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var publisher *config.Publisher
	if settings.RabbitMQ.Host != "" {
		config.InitRabbitMQ(settings.RabbitMQ)
		defer config.RabbitMQ.Close()
		if publisher, err = config.NewPublisher(); err != nil {
			log.Fatalf("> failed to open publisher: %v", err)
		}
		defer publisher.Close()
	}

	// a nil *Publisher must not reach the ledgers as a non-nil interface
	var svc *app.Services
	if publisher != nil {
		svc, err = app.New(settings, config.DB, clockwork.NewRealClock(), publisher)
	} else {
		svc, err = app.New(settings, config.DB, clockwork.NewRealClock(), nil)
	}
	if err != nil {
		log.Fatalf("> failed to build services: %v", err)
	}

	jobs := &schedule.Jobs{
		Holdings:       svc.Holdings,
		Engine:         svc.Engine,
		Pool:           svc.Pool,
		Clock:          svc.Clock,
		ReconcileBatch: settings.Settlement.ReconcileBatch,
	}
	c, err := schedule.New(jobs, settings.Schedule)
	if err != nil {
		log.Fatalf("> 添加定时任务失败: %v", err)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()
	log.Info("> 定时任务已启动")

	if publisher == nil {
		log.Warn("> RabbitMQ not configured, running scheduled jobs only")
		<-ctx.Done()
		return
	}

	consumer, err := config.NewConsumer(cashflow.QueueCashflowVerified, *prefetch)
	if err != nil {
		log.Fatalf("> failed to create consumer: %v", err)
	}
	defer consumer.Close()

	log.Info("> distribution worker started, waiting for verified cashflow events...")
	err = consumer.Consume(ctx, func(body []byte) error {
		var msg cashflow.VerifiedMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			// a malformed message will never parse, drop it
			log.WithError(err).Error("> failed to unmarshal message")
			return nil
		}
		return handleVerified(ctx, svc, msg)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("> consumer stopped: %v", err)
	}
}

// handleVerified distributes one verified event. Terminal rejections are
// acknowledged; anything else is requeued for another attempt.
func handleVerified(ctx context.Context, svc *app.Services, msg cashflow.VerifiedMessage) error {
	fields := log.Fields{"event_id": msg.EventID, "project_id": msg.ProjectID}
	result, err := svc.Engine.Execute(ctx, msg.EventID)
	switch {
	case err == nil:
		log.WithFields(fields).WithField("distribution_id", result.Distribution.ID).Info("> distribution executed")
		return nil
	case errs.IsTerminal(err):
		log.WithError(err).WithFields(fields).Warn("> distribution rejected, message dropped")
		return nil
	}
	log.WithError(err).WithFields(fields).Error("> distribution failed, requeueing")
	return err
}
