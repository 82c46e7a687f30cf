package bootstrap

import (
	"context"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"funblink/app/internal/data/database"
	"funblink/app/internal/data/ledger"
	"funblink/app/internal/data/migrations"
	"funblink/app/internal/domain/address"
	"funblink/app/internal/domain/blink"
	"funblink/app/internal/platform/auth"
	"funblink/app/internal/platform/config"
	presentationhttp "funblink/app/internal/presentation/http"
)

type Dependencies struct {
	Config    config.Config
	Logger    *logrus.Logger
	SentryHub *sentry.Hub
}

// Services are the storage and domain layers shared by the server and the CLI.
type Services struct {
	BlinkService blink.Service
	Ledger       *ledger.Ledger
	Deriver      *address.Deriver
	Database     *gorm.DB
	Cleanup      func() error
}

type Result struct {
	Services
	HTTPServer *presentationhttp.Server
}

// BuildServices opens and migrates the ledger database and wires the blink service.
func BuildServices(ctx context.Context, deps Dependencies) (Services, error) {
	db, err := database.Open(database.Options{Path: deps.Config.DBPath})
	if err != nil {
		return Services{}, eris.Wrap(err, "opening database")
	}

	closeOnError := func(wrapper error) (Services, error) {
		if closeErr := database.Close(db); closeErr != nil && deps.Logger != nil {
			deps.Logger.WithError(closeErr).Error("closing database after bootstrap failure")
		}
		return Services{}, wrapper
	}

	if err := migrations.MigrateLedger(ctx, db, deps.Logger); err != nil {
		return closeOnError(eris.Wrap(err, "running ledger migrations"))
	}

	store, err := ledger.NewLedger(ledger.Options{DB: db, Logger: deps.Logger})
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating ledger"))
	}

	program := deps.Config.Program
	deriver, err := address.NewDeriver(program.ID, program.Namespace)
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating address deriver"))
	}

	blinkService, err := blink.NewService(blink.ServiceOptions{
		Ledger:   store,
		Deriver:  deriver,
		Capacity: program.SlotCapacity,
		Rent: blink.Rent{
			LamportsPerByteYear: program.LamportsPerByteYear,
			ExemptionYears:      program.ExemptionYears,
		},
		Logger:    deps.Logger,
		SentryHub: deps.SentryHub,
	})
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating blink service"))
	}

	return Services{
		BlinkService: blinkService,
		Ledger:       store,
		Deriver:      deriver,
		Database:     db,
		Cleanup: func() error {
			return database.Close(db)
		},
	}, nil
}

// Build composes the full server: services plus the HTTP transport.
func Build(ctx context.Context, deps Dependencies) (Result, error) {
	services, err := BuildServices(ctx, deps)
	if err != nil {
		return Result{}, err
	}

	httpServer, err := presentationhttp.NewServer(presentationhttp.Options{
		BlinkService:      services.BlinkService,
		Verifier:          auth.NewVerifier(auth.VerifierOptions{MaxSkew: deps.Config.AuthMaxSkew}),
		Database:          services.Database,
		Logger:            deps.Logger,
		SentryHub:         deps.SentryHub,
		PublicBaseURL:     deps.Config.PublicBaseURL,
		TrustProxyHeaders: deps.Config.TrustProxyHeaders,
		RateLimiter: presentationhttp.RateLimiterSettings{
			Burst:             deps.Config.RateLimit.Burst,
			RequestsPerSecond: deps.Config.RateLimit.RequestsPerSecond,
			ClientTTL:         deps.Config.RateLimit.ClientTTL,
		},
	})
	if err != nil {
		if closeErr := services.Cleanup(); closeErr != nil && deps.Logger != nil {
			deps.Logger.WithError(closeErr).Error("closing database after bootstrap failure")
		}
		return Result{}, eris.Wrap(err, "initialising http server")
	}

	cleanup := services.Cleanup
	services.Cleanup = func() error {
		httpServer.Close()
		return cleanup()
	}

	return Result{Services: services, HTTPServer: httpServer}, nil
}
