//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"agrivest/internal/app"
	"agrivest/internal/routes"
	"agrivest/pkg/config"
)

// BaseURL points at the API under test.
var (
	BaseURL string
	DB      *gorm.DB
)

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("agrivest"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Errorf("> failed to start postgres container: %v", err)
		return 1
	}
	defer func() {
		if err := testcontainers.TerminateContainer(container, testcontainers.StopTimeout(10*time.Second)); err != nil {
			log.WithError(err).Warn("> failed to terminate postgres container")
		}
	}()

	connStr, err := container.ConnectionString(ctx, "sslmode=disable", "TimeZone=UTC")
	if err != nil {
		log.Errorf("> failed to get connection string: %v", err)
		return 1
	}
	DB, err = gorm.Open(postgres.Open(connStr), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		log.Errorf("> failed to open database: %v", err)
		return 1
	}
	if err := config.ExecuteMigrations(DB, "../../migrations"); err != nil {
		log.Errorf("> failed to migrate: %v", err)
		return 1
	}

	settings := config.DefaultSettings()
	settings.Settlement.RateLimitRPS = 0
	svc, err := app.New(settings, DB, clockwork.NewRealClock(), nil)
	if err != nil {
		log.Errorf("> failed to build services: %v", err)
		return 1
	}
	server := httptest.NewServer(routes.SetupRouter(svc.Handler(), settings.Server))
	defer server.Close()
	BaseURL = server.URL

	return m.Run()
}

// uniqueName keeps fixtures of different tests apart in the shared database.
func uniqueName(t *testing.T) string {
	return fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
}
