package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/petal-labs/pluraal"
	pluraalotel "github.com/petal-labs/pluraal/otel"
	"github.com/petal-labs/pluraal/server"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the scope HTTP API server",
		RunE:  runServe,
	}

	cmd.Flags().IntP("port", "p", 8080, "Listen port")
	cmd.Flags().String("host", "0.0.0.0", "Listen host")
	cmd.Flags().String("cors-origin", "*", "Allowed CORS origin")
	cmd.Flags().String("sqlite-path", "", "Path to SQLite database (default: in-memory store)")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 60*time.Second, "HTTP write timeout")
	cmd.Flags().String("retention-schedule", "", "Cron schedule for run retention sweeps (UTC, e.g. \"0 3 * * *\")")
	cmd.Flags().Duration("retention-max-age", 7*24*time.Hour, "How long finished runs are kept")
	cmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP endpoint for trace export (enables tracing)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	corsOrigin, _ := cmd.Flags().GetString("cors-origin")
	sqlitePath, _ := cmd.Flags().GetString("sqlite-path")
	maxBody, _ := cmd.Flags().GetInt64("max-body")
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")
	retentionSchedule, _ := cmd.Flags().GetString("retention-schedule")
	retentionMaxAge, _ := cmd.Flags().GetDuration("retention-max-age")
	otlpEndpoint, _ := cmd.Flags().GetString("otlp-endpoint")

	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store server.Store
	if sqlitePath != "" {
		sqliteStore, err := server.NewSQLiteStore(server.SQLiteStoreConfig{DSN: sqlitePath})
		if err != nil {
			return fmt.Errorf("opening sqlite store: %w", err)
		}
		defer func() {
			_ = sqliteStore.Close()
		}()
		store = sqliteStore
	} else {
		store = server.NewMemoryStore()
	}

	events, shutdownTracing, err := setupObservability(ctx, otlpEndpoint)
	if err != nil {
		return err
	}
	if shutdownTracing != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(shutdownCtx)
		}()
	}

	apiServer := server.NewServer(server.Config{
		Store:      store,
		Events:     events,
		CORSOrigin: corsOrigin,
		MaxBody:    maxBody,
		Logger:     logger,
	})

	if retentionSchedule != "" {
		sweeper, err := server.NewRetentionSweeper(store, server.RetentionConfig{
			Schedule: retentionSchedule,
			MaxAge:   retentionMaxAge,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("configuring run retention: %w", err)
		}
		go sweeper.Run(ctx)
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      apiServer.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "Pluraal server listening on %s\n", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}

// setupObservability wires evaluation events into OpenTelemetry. Tracing is
// exported over OTLP/HTTP when an endpoint is given; metrics use the global
// meter provider either way.
func setupObservability(ctx context.Context, otlpEndpoint string) (pluraal.EventHandler, func(context.Context) error, error) {
	var shutdown func(context.Context) error

	if otlpEndpoint != "" {
		exporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(otlpEndpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otelapi.SetTracerProvider(tp)
		shutdown = tp.Shutdown
	}

	tracing := pluraalotel.NewTracingHandler(otelapi.GetTracerProvider().Tracer("pluraal/server"))
	metrics, err := pluraalotel.NewMetricsHandler(otelapi.GetMeterProvider().Meter("pluraal/server"))
	if err != nil {
		return nil, nil, fmt.Errorf("initializing metrics: %w", err)
	}

	handler := func(e pluraal.Event) {
		tracing.Handle(e)
		metrics.Handle(e)
	}
	return handler, shutdown, nil
}
