// Command arp-agent is a reference host for the Audit Reporting Point
// client library (C1-C4): it wires Resolver -> Queue -> Transport and
// mounts the audit middleware ahead of a sample application handler, the
// way any Neo N3 service in the teacher corpus embeds ARP ahead of its own
// business handlers.
//
// Init order follows spec §9's client side: Resolver -> Queue -> Transport.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3E-Network/audit-core/internal/clock"
	"github.com/R3E-Network/audit-core/internal/config"
	"github.com/R3E-Network/audit-core/internal/logging"
	"github.com/R3E-Network/audit-core/internal/metrics"
	"github.com/R3E-Network/audit-core/pkg/arp/hrn"
	"github.com/R3E-Network/audit-core/pkg/arp/middleware"
	"github.com/R3E-Network/audit-core/pkg/arp/queue"
	"github.com/R3E-Network/audit-core/pkg/arp/transport"
)

func main() {
	cfg, err := config.LoadARPConfig()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)
	m := metrics.New(prometheus.DefaultRegisterer)
	clk := clock.Real{}

	spill, err := transport.NewFileSpillStore(cfg.SpillDir)
	if err != nil {
		logger.WithContext(context.Background()).WithError(err).Fatal("failed to open spill store")
	}

	transportCfg := transport.DefaultConfig(cfg.AuditServiceURL)
	transportCfg.RPCTimeout = cfg.RPCTimeout
	transportCfg.Retry.MaxAttempts = cfg.MaxRetries
	client := transport.New(transportCfg, logger, m)
	defer client.Close()

	replayCtx, replayCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := spill.Replay(replayCtx, client); err != nil {
		logger.WithContext(replayCtx).WithError(err).Warn("spill replay failed")
	}
	replayCancel()

	queueCfg := queue.DefaultConfig(cfg.TenantID)
	queueCfg.BSize = cfg.BatchSize
	queueCfg.Interval = cfg.BatchTimeout
	queueCfg.Capacity = cfg.QueueCapacity
	q := queue.New(queueCfg, clk, client, spill, m)

	table := hrn.NewTable()
	// Example resource patterns; a real host registers one per route it
	// wants audited, mirroring the teacher's per-service route tables.
	table.Register(http.MethodGet, "/api/*/*", "svc", "resource", "item")

	audited := middleware.Wrap(middleware.Config{
		ServiceName: cfg.ServiceName,
		Table:       table,
		Tenant:      func(r *http.Request) string { return cfg.TenantID },
		Clock:       clk,
		Logger:      logger,
	}, q, http.HandlerFunc(applicationHandler))

	mux := http.NewServeMux()
	mux.Handle("/", audited)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: ":8080", Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithContext(context.Background()).WithError(err).Error("server stopped unexpectedly")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	_ = q.Close(shutdownCtx)
}

// applicationHandler stands in for the host service's own business logic;
// a real deployment wraps its existing mux instead of this placeholder.
func applicationHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
