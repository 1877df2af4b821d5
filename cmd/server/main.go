package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/atmx/transit-fare/internal/config"
	"github.com/atmx/transit-fare/internal/fare"
	"github.com/atmx/transit-fare/internal/metrics"
	"github.com/atmx/transit-fare/internal/purchase"
	"github.com/atmx/transit-fare/internal/registry"
	"github.com/atmx/transit-fare/internal/settlement"
	"github.com/atmx/transit-fare/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("transit-fare failed", "err", err)
		os.Exit(1)
	}
	fmt.Println("transit-fare stopped")
}

// run wires the service and blocks until a signal or a server error. All
// resources are released by its defers before main decides the exit code.
func run() error {
	cfg, err := config.LoadAndValidate(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize stores ---
	var stations store.StationTable
	var stores purchase.Stores

	if dbURL := cfg.Storage.DatabaseURL; dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		slog.Info("connected to PostgreSQL")

		var st store.Store = pg
		// Wrap with Redis read-through ticket cache if configured.
		if redisURL := cfg.Storage.RedisURL; redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				return fmt.Errorf("invalid REDIS_URL: %w", err)
			}
			rdb := redis.NewClient(opt)
			defer rdb.Close()
			st = store.NewCachedStore(st, rdb, cfg.Storage.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.Storage.CacheTTL)
		}
		stations = st
		stores = purchase.Stores{Tickets: st, Fares: st, Discounts: st}
	} else {
		slog.Warn("DATABASE_URL not set, tickets are kept in memory (data will not persist)",
			"stations_file", cfg.Storage.StationsFile,
			"fares_file", cfg.Storage.FaresFile,
			"discount_file", cfg.Storage.DiscountFile,
		)
		stations = store.NewFileStore(cfg.Storage.StationsFile)
		stores = purchase.Stores{
			Tickets:   store.NewMemoryStore(),
			Fares:     store.NewFareFile(cfg.Storage.FaresFile),
			Discounts: store.NewDiscountFile(cfg.Storage.DiscountFile),
		}
	}

	// --- Fare engine ---
	ladder, err := cfg.Currency.Ladder()
	if err != nil {
		return fmt.Errorf("currency ladder: %w", err)
	}
	fareRate, _ := cfg.Fare.Rate()
	calc := fare.NewCalculator(fareRate)
	if d, _ := cfg.Fare.StartupDiscount(); d != nil {
		calc.SetDiscount(d)
		slog.Info("discount configured", "name", d.Name, "factor", d.Factor.String(), "enabled", d.Enabled)
	}
	refunds, _ := cfg.Refund.Schedule()
	engine := settlement.NewEngine(ladder)

	// A broken table is reported but not fatal: the registry starts empty.
	reg, err := registry.Open(ctx, stations)
	if err != nil {
		slog.Error("station table load failed, starting empty", "err", err)
	}

	// --- WebSocket hub ---
	wsHub := purchase.NewWSHub()
	go wsHub.Run(ctx)

	// --- Purchase service ---
	svc := purchase.NewService(reg, calc, engine, refunds, stores, wsHub)

	// Stored fares and discount are reported but not fatal: pricing falls
	// back to distance and the configured discount.
	if err := svc.LoadFares(ctx); err != nil {
		slog.Error("fare table load failed", "err", err)
	}
	if err := svc.LoadDiscount(ctx); err != nil {
		slog.Error("stored discount load failed, keeping configured discount", "err", err)
	}

	if cfg.Storage.DatabaseURL == "" && cfg.Storage.WatchStationsFile {
		if err := svc.WatchStations(ctx, cfg.Storage.StationsFile); err != nil {
			slog.Error("stations file watch failed", "err", err)
		}
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.Limits.PurchaseRPS), cfg.Limits.PurchaseBurst)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for browser-based terminals.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"transit-fare"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for ticket and station events.
		r.Get("/ws", wsHub.HandleWS)

		// Station registry.
		r.Get("/stations", svc.ListStations)
		r.Post("/stations", svc.CreateStation)
		r.Post("/stations/reload", svc.ReloadStationTable)
		r.Get("/stations/{name}", svc.GetStation)
		r.Delete("/stations/{name}", svc.DeleteStation)

		// Fares and purchases.
		r.Get("/fare", svc.GetFare)
		r.With(purchase.RateLimit(limiter)).Post("/purchase", svc.BuyTicket)

		// Ticket lifecycle.
		r.Get("/tickets/{ticketID}", svc.GetTicketByID)
		r.Post("/tickets/{ticketID}/enter", svc.EnterTicket)
		r.Post("/tickets/{ticketID}/complete", svc.CompleteTicket)
		r.Post("/tickets/{ticketID}/refund", svc.RefundTicket)
		r.Get("/riders/{riderID}/tickets", svc.ListRiderTickets)

		// Fixed fares.
		r.Get("/fares", svc.ListFares)
		r.Put("/fares", svc.PutFare)
		r.Delete("/fares", svc.DeleteFare)
		r.Post("/fares/reload", svc.ReloadFareTable)

		// Currency ladder and discounts.
		r.Get("/currency", svc.GetCurrency)
		r.Get("/discount", svc.GetDiscount)
		r.Put("/discount", svc.PutDiscount)
		r.Delete("/discount", svc.DeleteDiscount)
	})

	// --- Server ---
	port := strconv.Itoa(cfg.Server.Port)
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("transit-fare listening", "port", port, "stations", reg.Len())
	return serve(ctx, srv)
}

// serve runs srv until ctx is cancelled or ListenAndServe fails, then shuts
// it down.
func serve(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down transit-fare...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
