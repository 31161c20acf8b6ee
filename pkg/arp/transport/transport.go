// Package transport implements the ARP transport client (C4, spec §4.4): a
// pool of long-lived streaming connections to CAP, retried with
// exponential backoff, spilling to disk on exhaustion.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/audit-core/internal/apierrors"
	"github.com/R3E-Network/audit-core/internal/logging"
	"github.com/R3E-Network/audit-core/internal/metrics"
	"github.com/R3E-Network/audit-core/internal/ratelimit"
	"github.com/R3E-Network/audit-core/internal/resilience"
	"github.com/R3E-Network/audit-core/pkg/arp/queue"
	"github.com/R3E-Network/audit-core/pkg/auditproto"
)

// Config configures the transport client pool.
type Config struct {
	URL        string
	PoolSize   int
	RPCTimeout time.Duration
	Retry      resilience.RetryConfig
	Breaker    resilience.CircuitBreakerConfig
	RateLimit  ratelimit.Config
}

// DefaultConfig returns spec §4.4 defaults: base 100ms, cap 30s, jitter
// ±20%, max_retries=3, rpc_timeout 30s, a small connection pool.
func DefaultConfig(url string) Config {
	return Config{
		URL:        url,
		PoolSize:   4,
		RPCTimeout: 30 * time.Second,
		Retry:      resilience.DefaultRetryConfig(),
		Breaker:    resilience.DefaultCircuitBreakerConfig(),
		RateLimit:  ratelimit.DefaultConfig(),
	}
}

// conn is one pooled streaming connection.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

// Client is the ARP transport client, implementing queue.Flusher so the
// batch queue's flusher goroutine can hand batches to it directly.
type Client struct {
	cfg     Config
	logger  *logging.Logger
	metrics *metrics.Metrics
	breaker *resilience.CircuitBreaker
	limiter *ratelimit.Limiter
	dialer  *websocket.Dialer

	mu    sync.Mutex
	pool  []*conn
	round int
}

// New creates a transport Client. Connections are dialed lazily on first
// use, the way RPCPool probes endpoints only when needed.
func New(cfg Config, logger *logging.Logger, m *metrics.Metrics) *Client {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	return &Client{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		breaker: resilience.NewCircuitBreaker(cfg.Breaker),
		limiter: ratelimit.New(cfg.RateLimit),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		pool: make([]*conn, cfg.PoolSize),
	}
}

// Flush implements queue.Flusher: send batch, retrying with backoff under
// circuit-breaker protection, spilling on exhaustion via the caller's
// SpillWriter (the queue calls Spill itself if Flush returns an error).
func (c *Client) Flush(ctx context.Context, batch queue.Batch) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apierrors.Timeout("rate_limit_wait")
	}

	start := time.Now()
	err := c.breaker.Execute(func() error {
		return resilience.Retry(ctx, c.cfg.Retry, func() error {
			return c.sendOnce(ctx, batch)
		})
	})

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	if c.metrics != nil {
		c.metrics.RecordSend(outcome, time.Since(start))
	}
	if c.logger != nil {
		c.logger.LogCryptoOperation(ctx, "transport_send", err == nil, err)
	}
	return err
}

func (c *Client) sendOnce(ctx context.Context, batch queue.Batch) error {
	return c.sendWireOnce(ctx, toWireBatch(batch))
}

// sendWire retries a pre-built wire batch under the same backoff/breaker
// policy as Flush. Used by the spill store on startup replay.
func (c *Client) sendWire(ctx context.Context, wire auditproto.EventBatch) error {
	return c.breaker.Execute(func() error {
		return resilience.Retry(ctx, c.cfg.Retry, func() error {
			return c.sendWireOnce(ctx, wire)
		})
	})
}

func (c *Client) sendWireOnce(ctx context.Context, wire auditproto.EventBatch) error {
	cn, err := c.acquire()
	if err != nil {
		return apierrors.ConnectionReset(err)
	}

	cn.mu.Lock()
	defer cn.mu.Unlock()

	deadline := time.Now().Add(c.cfg.RPCTimeout)
	_ = cn.ws.SetWriteDeadline(deadline)
	if err := cn.ws.WriteJSON(wire); err != nil {
		c.invalidate(cn)
		return apierrors.ConnectionReset(err)
	}

	_ = cn.ws.SetReadDeadline(deadline)
	var ack auditproto.Ack
	if err := cn.ws.ReadJSON(&ack); err != nil {
		c.invalidate(cn)
		return apierrors.Timeout("publish_events")
	}

	if uint64(ack.AcceptedCount)+uint64(ack.RejectedCount) == 0 && len(wire.Events) > 0 {
		return apierrors.Internal("empty ack for non-empty batch", nil)
	}

	return nil
}

// acquire returns a healthy pooled connection, dialing one if needed.
func (c *Client) acquire() (*conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.round % len(c.pool)
	c.round++

	if c.pool[idx] != nil {
		return c.pool[idx], nil
	}

	header := http.Header{}
	ws, _, err := c.dialer.Dial(c.cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", c.cfg.URL, err)
	}
	cn := &conn{ws: ws}
	c.pool[idx] = cn
	return cn, nil
}

func (c *Client) invalidate(cn *conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.pool {
		if existing == cn {
			_ = cn.ws.Close()
			c.pool[i] = nil
			return
		}
	}
}

// Close closes every pooled connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, cn := range c.pool {
		if cn != nil {
			_ = cn.ws.Close()
			c.pool[i] = nil
		}
	}
	return nil
}

func toWireBatch(batch queue.Batch) auditproto.EventBatch {
	events := make([]auditproto.RawEvent, len(batch.Events))
	for i, e := range batch.Events {
		events[i] = auditproto.RawEvent{
			EventID:           e.EventID,
			EventTime:         e.EventTime.UTC().Format(time.RFC3339Nano),
			EventSource:       e.EventSource,
			EventName:         e.EventName,
			EventCategory:     string(e.EventCategory),
			ReadOnly:          e.ReadOnly,
			TenantID:          e.TenantID,
			Resource:          e.Resource.Render(),
			SourceIP:          e.SourceIP,
			UserAgent:         e.UserAgent,
			UserID:            e.UserID,
			TraceID:           e.TraceID,
			HTTPMethod:        e.HTTPMethod,
			HTTPStatus:        e.HTTPStatus,
			ErrorCode:         e.ErrorCode,
			ErrorMessage:      e.ErrorMessage,
			RequestParameters: e.RequestParameters,
			ResponseElements:  e.ResponseElements,
			AdditionalData:    e.AdditionalData,
		}
	}
	return auditproto.EventBatch{
		TenantID: batch.TenantID,
		BatchID:  batch.BatchID,
		Events:   events,
	}
}

// marshalBatch is exposed for the spill store, which persists the wire
// form so replay doesn't depend on in-process types surviving a restart.
func marshalBatch(batch queue.Batch) ([]byte, error) {
	return json.Marshal(toWireBatch(batch))
}
