package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/tinoosan/settlements/internal/amqp"
	"github.com/tinoosan/settlements/internal/config"
	httpapi "github.com/tinoosan/settlements/internal/httpapi/v1"
	"github.com/tinoosan/settlements/internal/ledger"
	"github.com/tinoosan/settlements/internal/service/expense"
	"github.com/tinoosan/settlements/internal/service/project"
	"github.com/tinoosan/settlements/internal/service/settlement"
	"github.com/tinoosan/settlements/internal/storage/memory"
	pgstore "github.com/tinoosan/settlements/internal/storage/postgres"
)

// backend is what both storage implementations provide to the services.
type backend interface {
	settlement.Repo
	settlement.Writer
	project.Repo
	project.Writer
	expense.Repo
	expense.Writer
	CreateUser(ctx context.Context, u ledger.User) (ledger.User, error)
	Ready(ctx context.Context) error
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg := config.Load()
	logger := buildLogger(cfg)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store   backend
		locker  settlement.Locker
		closeFn func()
	)
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "err", err)
			os.Exit(1)
		}
		if err := pg.Migrate(); err != nil {
			pg.Close()
			logger.Error("failed to apply migrations", "err", err)
			os.Exit(1)
		}
		store, locker, closeFn = pg, pg.Locker(), pg.Close
		logger.Info("storage backend: postgres")
	} else {
		store = memory.New()
		logger.Info("storage backend: memory")
	}
	if closeFn != nil {
		defer closeFn()
	}

	var notifier settlement.Notifier
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("failed to initialize AMQP client, settlement events disabled", "err", err)
		} else {
			defer client.Close()
			notifier = client
			logger.Info("AMQP publisher initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	settlements := settlement.New(store, store, settlement.Options{
		DateSource: cfg.ExpenseDateSource,
		Locker:     locker,
		Notifier:   notifier,
		Logger:     logger,
	})
	projects := project.New(store, store, project.Options{Settlements: settlements, Logger: logger})
	expenses := expense.New(store, store)

	if cfg.DevSeed || cfg.DatabaseURL == "" {
		if err := devSeed(ctx, logger, store, projects, expenses); err != nil {
			logger.Error("dev seed failed", "err", err)
		}
	}

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: httpapi.New(httpapi.Services{
			Settlements: settlements,
			Projects:    projects,
			Expenses:    expenses,
		}, httpapi.Options{
			Auth:   httpapi.AuthConfig{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer},
			Ready:  store,
			Logger: logger,
		}).Handler(),
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("settlements service listening", "addr", srv.Addr, "expense_date_source", cfg.ExpenseDateSource)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctxShutdown); err != nil {
			logger.Error("server shutdown error", "err", err)
		}
	case err := <-errCh:
		logger.Error("server error", "err", err)
	}
}

// devSeed creates a user with one ended project and an expense in the
// previous month, ready to be settled.
func devSeed(ctx context.Context, l *slog.Logger, store backend, projects project.Service, expenses expense.Service) error {
	email := "dev@example.com"
	user, err := store.CreateUser(ctx, ledger.User{ID: uuid.New(), Email: &email})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	last := ledger.PeriodOf(time.Now()).Start().AddDate(0, -1, 14)
	p, err := projects.Create(ctx, ledger.Project{
		UserID:          user.ID,
		Name:            "Demo project",
		PurchaseOrder:   "OC-0001",
		QuotedValue:     ledger.MustAmount(100_000_000),
		Locality:        "Bogota",
		ExecutionStatus: ledger.ExecutionEnded,
		SettlementDate:  &last,
	})
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	e, err := expenses.Create(ctx, user.ID, ledger.Expense{
		ProjectID:   p.ID,
		Description: "Materials",
		Amount:      ledger.MustAmount(20_000_000),
		Type:        ledger.ExpenseHardware,
		Date:        &last,
	})
	if err != nil {
		return fmt.Errorf("create expense: %w", err)
	}
	l.Info("DEV seed", "user_id", user.ID.String(), "project_id", p.ID.String(), "expense_id", e.ID.String(), "period", ledger.PeriodOf(last).String())
	printDevSeedBanner(user, p, ledger.PeriodOf(last))
	return nil
}

// printDevSeedBanner prints a simple banner to stdout for easy copy/paste of IDs
func printDevSeedBanner(user ledger.User, p ledger.Project, period ledger.Period) {
	fmt.Println("==================== DEV SEED ====================")
	fmt.Printf("user_id: %s\n", user.ID.String())
	fmt.Printf("project_id: %s (%s)\n", p.ID.String(), p.Identifier)
	fmt.Printf("settle with: {\"user_id\":\"%s\",\"month\":%d,\"year\":%d}\n", user.ID, period.Month, period.Year)
	fmt.Println("==================================================")
}

func buildLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
