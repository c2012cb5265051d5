package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"equity_go/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	configPath := "configs/config.yaml"
	if v := os.Getenv("EQUI_CONFIG"); v != "" {
		configPath = v
	}

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Background price warm-up
	go bootstrap.WarmUp(ctx)

	// 5. Order-book stream
	cfg := bootstrap.Config
	var server *http.Server
	if cfg.Stream.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/ws/orderbook", bootstrap.Hub)
		server = &http.Server{Addr: cfg.Stream.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		go bootstrap.Hub.Run(ctx)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Stream server failed", slog.Any("error", err))
			}
		}()
		slog.InfoContext(ctx, "✅ Order-book stream started", slog.String("addr", cfg.Stream.Addr))
	}

	slog.InfoContext(ctx, "✨ EquiChain fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}

	snap := bootstrap.Metrics.Snapshot()
	slog.Info("📈 Session metrics",
		slog.Uint64("buys", snap.Buys),
		slog.Uint64("sells", snap.Sells),
		slog.Uint64("rejected", snap.TradesRejected),
		slog.Uint64("fallback_prices", snap.FallbackPrices),
		slog.Uint64("simulated_receipts", snap.SimulatedReceipts))
}
