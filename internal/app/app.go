// Package app wires the ledgers, the distribution engine and the settlement
// collaborator from Settings. The api and worker binaries share it.
package app

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"agrivest/internal/business/capitalpool"
	"agrivest/internal/business/cashflow"
	"agrivest/internal/business/distribution"
	"agrivest/internal/business/holding"
	"agrivest/internal/handlers"
	"agrivest/internal/settlement"
	"agrivest/internal/store"
	"agrivest/internal/wallet"
	"agrivest/pkg/config"
	"agrivest/pkg/retry"
	solanautil "agrivest/pkg/solana"
)

type Services struct {
	DB       *gorm.DB
	UoW      *store.UnitOfWork
	Clock    clockwork.Clock
	Cashflow *cashflow.Ledger
	Holdings *holding.Registry
	Pool     *capitalpool.Ledger
	Wallets  *wallet.Directory
	Engine   *distribution.Engine
	Settings config.Settings
}

// New builds the services over db. publisher may be nil, in which case no
// queue notifications are sent.
func New(s config.Settings, db *gorm.DB, clock clockwork.Clock, publisher cashflow.Publisher) (*Services, error) {
	isolation, err := s.Database.IsolationLevel()
	if err != nil {
		return nil, err
	}
	uow := store.New(db, isolation)

	wallets := wallet.NewDirectory(db)
	if s.Solana.Custodial {
		wallets = wallets.WithCustody(solanautil.NewKeyManager(s.Solana.KeyPassphrase))
	}

	settler, err := NewSettler(s, db, clock)
	if err != nil {
		return nil, err
	}

	registry := holding.NewRegistry(uow, clock)
	engine, err := distribution.NewEngine(uow, registry, s.Waterfall, settler, wallets, clock, distribution.Options{
		Scale:      s.Currency.Scale,
		LegTimeout: s.Settlement.Timeout,
		Retry: retry.Config{
			MaxAttempts: s.Settlement.MaxAttempts,
			BaseBackoff: s.Settlement.BaseBackoff,
			MaxBackoff:  s.Settlement.MaxBackoff,
		},
		Concurrency: s.Settlement.Concurrency,
	})
	if err != nil {
		return nil, err
	}

	ledger := cashflow.NewLedger(uow, clock, s.Currency.Scale)
	if publisher != nil {
		ledger = ledger.WithPublisher(publisher)
		engine = engine.WithPublisher(publisher)
	}

	return &Services{
		DB:       db,
		UoW:      uow,
		Clock:    clock,
		Cashflow: ledger,
		Holdings: registry,
		Pool:     capitalpool.NewLedger(uow, clock, s.Currency.Scale),
		Wallets:  wallets,
		Engine:   engine,
		Settings: s,
	}, nil
}

// NewSettler picks the settlement collaborator named by s.Settlement.Mode and
// caps its request rate.
func NewSettler(s config.Settings, db *gorm.DB, clock clockwork.Clock) (settlement.Settler, error) {
	var inner settlement.Settler
	switch s.Settlement.Mode {
	case "", "ledger":
		inner = settlement.NewLedgerSettler(db, clock)
	case "solana":
		signer, err := solanautil.ParseSigner(s.Solana.SignerKey)
		if err != nil {
			return nil, err
		}
		mint, err := solana.PublicKeyFromBase58(s.Solana.Mint)
		if err != nil {
			return nil, fmt.Errorf("invalid mint: %w", err)
		}
		inner = settlement.NewSolanaSettler(db, rpc.New(s.Solana.RPCURL), signer, mint, s.Solana.MintDecimals, clock)
		log.WithFields(log.Fields{
			"rpc":    s.Solana.RPCURL,
			"mint":   mint.String(),
			"signer": signer.PublicKey().String(),
		}).Info("> solana settlement enabled")
	default:
		return nil, fmt.Errorf("unknown settlement mode %q", s.Settlement.Mode)
	}
	if s.Settlement.RateLimitRPS > 0 {
		return settlement.NewRateLimited(inner, s.Settlement.RateLimitRPS), nil
	}
	return inner, nil
}

// Handler exposes the services to the HTTP layer.
func (s *Services) Handler() *handlers.Handler {
	return &handlers.Handler{
		DB:              s.DB,
		Cashflow:        s.Cashflow,
		Holdings:        s.Holdings,
		Pool:            s.Pool,
		Engine:          s.Engine,
		Wallets:         s.Wallets,
		Clock:           s.Clock,
		DefaultCurrency: s.Settings.Currency.Code,
		ConflictRetry: retry.Config{
			MaxAttempts: s.Settings.Settlement.MaxAttempts,
			BaseBackoff: s.Settings.Settlement.BaseBackoff,
			MaxBackoff:  s.Settings.Settlement.MaxBackoff,
		},
	}
}
