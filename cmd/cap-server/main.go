// Command cap-server runs the Centralized Audit Point: ingestion,
// key management, the digest chain worker, and the verification API.
//
// Init order follows spec §9: KeyStore -> KeyManager -> ChainStore ->
// DigestWorker -> IngestionServer -> Sink.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/audit-core/internal/cap/chain"
	"github.com/R3E-Network/audit-core/internal/cap/eventstore"
	"github.com/R3E-Network/audit-core/internal/cap/ingest"
	"github.com/R3E-Network/audit-core/internal/cap/keys"
	"github.com/R3E-Network/audit-core/internal/cap/sink"
	"github.com/R3E-Network/audit-core/internal/cap/verify"
	"github.com/R3E-Network/audit-core/internal/clock"
	"github.com/R3E-Network/audit-core/internal/config"
	"github.com/R3E-Network/audit-core/internal/healthz"
	"github.com/R3E-Network/audit-core/internal/logging"
	"github.com/R3E-Network/audit-core/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.LoadCAPConfig()
	if err != nil {
		panic(err)
	}

	logger := logging.New("cap-server", cfg.LogLevel, cfg.LogFormat)
	m := metrics.New(prometheus.DefaultRegisterer)
	clk := clock.Real{}

	keyStore, err := keys.NewFileStore(cfg.KeyStoreDir)
	if err != nil {
		logger.WithContext(context.Background()).WithError(err).Fatal("failed to open key store")
	}
	keyManager := keys.NewManager(keyStore, clk, cfg.KeyRotationInterval, cfg.RotationGracePeriod)

	chainStore, err := chain.NewFileStore(cfg.ChainStoreDir)
	if err != nil {
		logger.WithContext(context.Background()).WithError(err).Fatal("failed to open chain store")
	}
	eventStore, err := eventstore.NewFileStore(filepath.Join(cfg.ChainStoreDir, "events"))
	if err != nil {
		logger.WithContext(context.Background()).WithError(err).Fatal("failed to open event store")
	}

	worker := chain.NewWorker(chainStore, eventStore, keyManager, clk, cfg.DigestInterval, logger, m)

	tenantRegistry := newTenantRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx, tenantRegistry.List)

	rotationSweep := cron.New()
	// Daily rotation sweep (RotateIfDue, then CompleteRotation per tenant), grounded on the teacher's
	// BaseService.AddTickerWorker(24*time.Hour, s.rotationWorkerWithError)
	// periodic-worker shape (infrastructure/globalsigner/marble/service.go).
	if _, err := rotationSweep.AddFunc("@daily", func() {
		for _, tenant := range tenantRegistry.List() {
			if _, err := keyManager.RotateIfDue(ctx, tenant); err != nil {
				logger.WithContext(ctx).WithError(err).Warn("key rotation-due sweep failed")
			}
			if err := keyManager.CompleteRotation(ctx, tenant); err != nil {
				logger.WithContext(ctx).WithError(err).Warn("key rotation sweep failed")
			}
		}
	}); err != nil {
		logger.WithContext(ctx).WithError(err).Warn("failed to schedule rotation sweep")
	}
	rotationSweep.Start()
	defer rotationSweep.Stop()

	downstream := sink.NewEventStoreSink(eventStore)
	ingestServer := ingest.NewServer(downstream, clk, logger, m)
	ingestServer.KnownTenant = tenantRegistry.Known

	verifyService := verify.NewService(chainStore, keyManager, eventStore, m)

	health := healthz.NewChecker()
	health.Register("chain_store", func() error {
		_, _, err := chainStore.Last(context.Background(), "__healthz__")
		return err
	})
	health.Register("key_store", func() error {
		_, err := keyStore.ListByTenant(context.Background(), "__healthz__")
		return err
	})

	mux := http.NewServeMux()
	mux.Handle("/publish", ingestServer)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health.Handler())
	mux.Handle("/", verify.Router(verifyService))

	server := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithContext(ctx).WithError(err).Error("server stopped unexpectedly")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	worker.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}

// tenantRegistry tracks tenants observed by the ingestion server so the
// digest worker and rotation sweep know which tenants to tick. A
// production deployment would back this with tenant-management CRUD
// (explicitly out of scope, spec §1); this in-memory registry is the
// minimal stand-in the in-scope components need.
type tenantRegistry struct {
	mu      sync.Mutex
	tenants map[string]struct{}
}

func newTenantRegistry() *tenantRegistry {
	return &tenantRegistry{tenants: make(map[string]struct{})}
}

func (t *tenantRegistry) Known(tenantID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tenants[tenantID] = struct{}{}
	return true
}

func (t *tenantRegistry) List() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.tenants))
	for tenant := range t.tenants {
		out = append(out, tenant)
	}
	return out
}
