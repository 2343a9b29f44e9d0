package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"agrivest/internal/app"
	"agrivest/internal/routes"
	"agrivest/pkg/config"
)

func main() {
	configPath := flag.String("config", os.Getenv("AGRIVEST_CONFIG"), "path to the YAML settings file")
	migrateOnly := flag.Bool("migrate", false, "apply pending migrations and exit")
	rollback := flag.Bool("rollback", false, "roll back the latest migration and exit")
	migrationsDir := flag.String("migrations", config.MigrationsDir, "migrations directory")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("> failed to load .env")
	}

	settings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("> invalid settings: %v", err)
	}
	config.SetupLogger(settings.Log)

	// Initialize database
	config.InitDB(settings.Database)
	switch {
	case *rollback:
		if err := config.RollbackMigration(config.DB, *migrationsDir); err != nil {
			log.Fatalf("> rollback failed: %v", err)
		}
		return
	case *migrateOnly:
		if err := config.ExecuteMigrations(config.DB, *migrationsDir); err != nil {
			log.Fatalf("> migrate failed: %v", err)
		}
		return
	}

	// Initialize RabbitMQ (optional, will log warning if not configured)
	var publisher *config.Publisher
	if settings.RabbitMQ.Host != "" {
		config.InitRabbitMQ(settings.RabbitMQ)
		defer config.RabbitMQ.Close()
		publisher, err = config.NewPublisher()
		if err != nil {
			log.Fatalf("> failed to open publisher: %v", err)
		}
		defer publisher.Close()
		log.Info("> RabbitMQ initialized successfully")
	} else {
		log.Info("> RabbitMQ not configured, skipping initialization")
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

	// Set up router
	r := routes.SetupRouter(svc.Handler(), settings.Server)

	log.WithField("port", settings.Server.Port).Info("> api listening")
	if err := r.Run(":" + settings.Server.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
