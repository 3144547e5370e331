package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/tracelib/internal/config"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/errcode"
	"github.com/GriffinCanCode/AgentOS/tracelib/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/tracelib/pkg/tracing"
)

func main() {
	// Parse flags
	appID := flag.String("app", "TestApp", "Application instance id (first 8 bytes are used)")
	binding := flag.String("binding", "vector", "Binding type: lola, vector or vector_zero_copy")
	interval := flag.Duration("interval", 100*time.Millisecond, "Delay between traces")
	count := flag.Int("count", 0, "Number of traces to emit, 0 until interrupted")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address, e.g. :9102")
	flag.Parse()

	bt := types.ParseBindingType(*binding)
	if !bt.Valid() {
		log.Fatalf("Unknown binding %q", *binding)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	reg := prometheus.NewRegistry()
	lib, err := tracing.Open(cfg, tracing.WithRegisterer(reg))
	if err != nil {
		log.Fatalf("Failed to open tracing library: %v", err)
	}
	logger := lib.Logger().Named("app")

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, reg, logger)
	}

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- emit(ctx, lib, bt, *appID, *interval, *count, logger)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errChan:
		if err != nil {
			logger.Error("trace loop stopped", zap.Error(err))
		}
	}

	if err := lib.Close(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
}

// emit registers one client and sends local traces every interval. Calls
// failing with a recoverable error, such as before the daemon is reachable,
// are counted and skipped.
func emit(ctx context.Context, lib *tracing.Library, binding tracing.BindingType, appID string,
	interval time.Duration, count int, logger *zap.Logger) error {
	client, err := lib.RegisterClient(ctx, binding, appID)
	if err != nil {
		return fmt.Errorf("register client: %w", err)
	}

	meta := tracing.AraComMetaInfo{Properties: types.AraComProperties{
		TracePointType: types.TracePointSkelEventSnd,
		Element:        types.ServiceInstanceElement{ServiceID: 1, InstanceID: 1, ElementID: 1},
	}}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sent, skipped := 0, 0
	for count == 0 || sent < count {
		select {
		case <-ctx.Done():
			logger.Info("trace loop done", zap.Int("sent", sent), zap.Int("skipped", skipped))
			return nil
		case <-ticker.C:
		}

		payload := fmt.Sprintf("trace %d from %s at %s", sent+skipped, appID, time.Now().Format(time.RFC3339Nano))
		err := lib.TraceLocal(client, meta, tracing.LocalChunkList{{Data: []byte(payload)}})
		if err != nil {
			if code := errcode.From(err, errcode.Terminal); !code.Recoverable() {
				return fmt.Errorf("trace after %d sent: %w", sent, err)
			}
			skipped++
			logger.Debug("trace skipped", zap.Stringer("state", lib.State()), zap.Error(err))
			continue
		}
		sent++
	}

	logger.Info("trace loop done", zap.Int("sent", sent), zap.Int("skipped", skipped))
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", zap.Error(err))
	}
}
