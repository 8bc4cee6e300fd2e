package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lehigh-university-libraries/doisync/internal/config"
	"github.com/lehigh-university-libraries/doisync/internal/handlers"
	"github.com/lehigh-university-libraries/doisync/internal/metrics"
	"github.com/lehigh-university-libraries/doisync/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start a reference record endpoint",
		Long: `Starts an HTTP endpoint implementing the record contract at /exec:
op=all, op=byDoi and op=save over form POST, JSON POST or GET.

Records live in memory (optionally snapshotted to a JSON file) or in a Redis
hash. Transports can be rejected to reproduce endpoints that only accept some
request encodings.`,
		Example: `  # Start server on default port 8888
  doisync serve

  # Persist records to a file and accept GET saves only
  doisync serve --data-file records.json --reject form,json

  # Store records in Redis
  doisync serve --redis-addr localhost:6379`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.Server

			rejected, err := handlers.ParseStrategies(cfg.Reject)
			if err != nil {
				return err
			}

			store, closeStore, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			handler := handlers.New(store, handlers.WithRejected(rejected...))

			reg := prometheus.NewRegistry()
			metrics.RegisterCollectors(reg)

			// Set up routes
			mux := http.NewServeMux()
			mux.HandleFunc("/exec", handler.HandleEndpoint)
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
				if _, err := w.Write([]byte("OK")); err != nil {
					slog.Error("Unable to write healthcheck", "err", err)
				}
			})

			addr := ":" + cfg.Port
			server := &http.Server{
				Addr:    addr,
				Handler: mux,
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Record endpoint available", "addr", addr, "url", "http://localhost"+addr+"/exec", "rejected", cfg.Reject)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...")
				// Give server 5 seconds to shut down gracefully
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	flags := cmd.Flags()
	flags.StringP("port", "p", "8888", "Port to listen on")
	flags.String("data-file", "", "JSON snapshot file for the in-memory store")
	flags.String("redis-addr", "", "Redis address; when set records are stored in Redis")
	flags.String("redis-key", storage.DefaultRedisKey, "Redis hash holding the records")
	flags.StringSlice("reject", nil, "Save transports to answer with 405 (form, json, get)")
	for _, name := range []string{"port", "data-file", "redis-addr", "redis-key", "reject"} {
		_ = a.v.BindPFlag("server."+name, flags.Lookup(name))
	}

	return cmd
}

// openStore picks Redis when an address is configured, else memory.
func openStore(ctx context.Context, cfg config.ServerConfig) (storage.Store, func(), error) {
	if cfg.RedisAddr == "" {
		if cfg.DataFile == "" {
			slog.Info("Using in-memory store")
			return storage.New(), func() {}, nil
		}
		store, err := storage.NewWithSnapshot(cfg.DataFile)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using in-memory store with snapshot", "file", cfg.DataFile)
		return store, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	slog.Info("Using redis store", "addr", cfg.RedisAddr, "key", cfg.RedisKey)
	return storage.NewRedisStore(client, cfg.RedisKey), func() {
		if err := client.Close(); err != nil {
			slog.Error("Failed to close redis client", "err", err)
		}
	}, nil
}
