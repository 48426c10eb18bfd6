package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	taskgate "github.com/nevindra/taskgate"
	"github.com/nevindra/taskgate/internal/app"
	"github.com/nevindra/taskgate/internal/config"
	"github.com/nevindra/taskgate/observer"
	"github.com/nevindra/taskgate/provider"
	"github.com/nevindra/taskgate/provider/openrouter"
	"github.com/nevindra/taskgate/provider/scoring"
	"github.com/nevindra/taskgate/store/postgres"
	"github.com/nevindra/taskgate/store/sqlite"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gatewayd HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), config.Load(*configPath))
		},
	}
}

// runServe wires every C1-C11 collaborator together and serves HTTP until
// SIGINT/SIGTERM, grounded on the teacher's own App/Deps construction in
// internal/app/app.go and its graceful-shutdown main.
func runServe(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	catalogueSource := openrouter.NewCatalogueSource()
	catalogue := taskgate.NewCatalogue(catalogueSource, cfg.Catalogue.TTL)
	llm := openrouter.New("", catalogueModelLookup(catalogue), openrouter.WithBaseURL(cfg.Provider.BaseURL))
	scorer := scoring.New(cfg.Scoring.BaseURL)

	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var shutdown func(context.Context) error
		inst, shutdown, err = observer.Init(ctx, catalogueCostLookup(catalogue))
		if err != nil {
			return fmt.Errorf("init observer: %w", err)
		}
		defer shutdown(context.Background())
	}

	bus := taskgate.NewEventBus()
	selector := taskgate.NewSelector(catalogue, scorer, store, cfg.Scoring.BatchSize, inst)
	decomposer := taskgate.NewDecomposer(llm, store, bus)
	executor := taskgate.NewExecutor(store, catalogue, selector, llm, bus, inst)
	reevaluator := taskgate.NewReevaluator(llm, store, bus, inst)
	queue := taskgate.NewWorkQueue(store, bus, decomposer, executor, reevaluator, cfg.Queue.BufferSize, inst)

	go queue.Start(ctx)
	defer queue.Stop()

	a := app.New(store, bus, queue, catalogue, llm)
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: a.Router()}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// catalogueCostLookup adapts the Model Catalogue Cache to observer.CostLookup.
// The lookup calls GetByID synchronously with a background context and no
// timeout, so a stale cache blocks the caller on the cache's singleflight
// refresh; a refresh error or unknown model yields ok=false.
func catalogueCostLookup(catalogue *taskgate.Catalogue) observer.CostLookup {
	return func(model string) (observer.ModelPricing, bool) {
		desc, ok, err := catalogue.GetByID(context.Background(), model)
		if err != nil || !ok {
			return observer.ModelPricing{}, false
		}
		return observer.ModelPricing{
			InputPerMillion:  desc.Pricing.PromptPerMillion,
			OutputPerMillion: desc.Pricing.CompletionPerMillion,
		}, true
	}
}

// catalogueModelLookup adapts the Model Catalogue Cache to
// provider.ModelLookup so the OpenRouter adapter's resolve() (§4.2) can
// validate attachment modalities and downgrade native web search against
// live catalogue data instead of running unchecked.
func catalogueModelLookup(catalogue *taskgate.Catalogue) provider.ModelLookup {
	return func(model string) (provider.ModelCapabilities, bool) {
		desc, ok, err := catalogue.GetByID(context.Background(), model)
		if err != nil || !ok {
			return provider.ModelCapabilities{}, false
		}
		modalities := make(map[provider.FileKind]bool, len(desc.InputModalities))
		for _, m := range desc.InputModalities {
			switch m {
			case taskgate.ModalityText:
				modalities[provider.FileKindText] = true
			case taskgate.ModalityImage:
				modalities[provider.FileKindImage] = true
			case taskgate.ModalityAudio:
				modalities[provider.FileKindAudio] = true
			case taskgate.ModalityFile:
				modalities[provider.FileKindPDF] = true
			}
		}
		return provider.ModelCapabilities{
			InputModalities:         modalities,
			SupportsNativeWebSearch: desc.SupportsNativeWebSearch,
		}, true
	}
}

// openStore constructs the configured Store driver and returns a close
// func the caller must defer.
func openStore(ctx context.Context, cfg config.StoreConfig) (taskgate.Store, func(), error) {
	switch cfg.Driver {
	case "", "sqlite":
		s := sqlite.New(cfg.DSN)
		return s, func() { s.Close() }, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		s := postgres.New(pool)
		return s, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
