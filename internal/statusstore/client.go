package statusstore

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/memcp-go/internal/metrics"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

func init() {
	// Force HTTP/1.1 for WSS connections to prevent HTTP/2 ALPN negotiation.
	// WebSocket upgrade requires HTTP/1.1 semantics which fail under HTTP/2.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

// Config holds SurrealDB connection configuration for the production
// Status Store backend. The retry fields are tuned per caller: a
// long-running worker process should reconnect patiently across a broker
// restart, while docwriterctl's one-shot invocations should fail fast
// rather than block an operator's terminal for minutes. Zero values fall
// back to worker-appropriate defaults.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // "root" or "database"

	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	RetryMaxAttempts  int
}

func (cfg Config) withRetryDefaults() Config {
	if cfg.RetryInitialDelay <= 0 {
		cfg.RetryInitialDelay = 1 * time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 10
	}
	return cfg
}

// Client wraps a SurrealDB connection with auto-reconnect and implements
// Store against the job/timeline/document_index/memory/feature_flag tables.
type Client struct {
	conn      *rews.Connection[*gorillaws.Connection]
	db        *surrealdb.DB
	cfg       Config
	logger    logger.Logger
	log       *slog.Logger
	collector *metrics.Collector
}

// NewClient connects to SurrealDB and authenticates per cfg. collector may
// be nil, in which case query timings are dropped rather than recorded.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger, collector *metrics.Collector) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withRetryDefaults()
	sdkLogger := logger.New(log.Handler())

	codec := surrealcbor.New()

	baseURL := strings.TrimSuffix(cfg.URL, "/rpc")

	conn := rews.New(
		func(ctx context.Context) (*gorillaws.Connection, error) {
			ws := gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			})
			return ws, nil
		},
		5*time.Second,
		codec,
		sdkLogger,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = cfg.RetryInitialDelay
	retryer.MaxDelay = cfg.RetryMaxDelay
	retryer.Multiplier = 2.0
	retryer.MaxRetries = cfg.RetryMaxAttempts
	conn.Retryer = retryer

	log.Info("statusstore: dialing SurrealDB", "url", cfg.URL, "max_attempts", cfg.RetryMaxAttempts)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("statusstore: connect: %w", err)
	}

	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("statusstore: from connection: %w", err)
	}

	if cfg.AuthLevel == "database" {
		_, err = db.SignIn(ctx, surrealdb.Auth{
			Namespace: cfg.Namespace,
			Database:  cfg.Database,
			Username:  cfg.Username,
			Password:  cfg.Password,
		})
	} else {
		_, err = db.SignIn(ctx, surrealdb.Auth{
			Username: cfg.Username,
			Password: cfg.Password,
		})
	}
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("statusstore: signin as %q (%s): %w", cfg.Username, cfg.AuthLevel, err)
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("statusstore: use %s/%s: %w", cfg.Namespace, cfg.Database, err)
	}

	log.Info("statusstore: ready", "namespace", cfg.Namespace, "database", cfg.Database)
	return &Client{conn: conn, db: db, cfg: cfg, logger: sdkLogger, log: log, collector: collector}, nil
}

// recordQuery times a SurrealQL round trip against op, the same collector
// LLM calls and embedding calls are timed through, so the metrics endpoint
// can show database latency alongside them.
func (c *Client) recordQuery(op string, start time.Time) {
	if c.collector != nil {
		c.collector.RecordTiming(op, time.Since(start))
	}
}

// Ping issues a trivial query to confirm the connection is live, used by
// worker startup to fail fast rather than let the first job's queue
// delivery discover a dead connection.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, c.db, "RETURN 1", nil); err != nil {
		return fmt.Errorf("statusstore: ping: %w", err)
	}
	return nil
}

// WaitReady polls Ping until it succeeds or ctx is done, for callers that
// start before SurrealDB has finished its own boot sequence (e.g. a worker
// process racing a freshly started database container).
func (c *Client) WaitReady(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	for {
		if err := c.Ping(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("statusstore: wait ready: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
}

// Close closes the underlying connection.
func (c *Client) Close(ctx context.Context) error {
	c.log.Info("statusstore: closing connection")
	return c.conn.Close(ctx)
}

// DB returns the underlying SurrealDB client, for callers that need a raw
// query not expressed through Store.
func (c *Client) DB() *surrealdb.DB {
	return c.db
}

// InitSchema applies SchemaSQL, idempotently.
func (c *Client) InitSchema(ctx context.Context) error {
	_, err := surrealdb.Query[any](ctx, c.db, SchemaSQL, nil)
	if err != nil {
		return fmt.Errorf("statusstore: init schema: %w", err)
	}
	c.log.Info("statusstore: schema applied")
	return nil
}

// WipeData deletes all rows while preserving schema. Test-only.
func (c *Client) WipeData(ctx context.Context) error {
	c.log.Warn("statusstore: wiping all data")
	tables := []string{"timeline_event", "document_index", "memory_snapshot", "dead_letter", "feature_flag", "job"}
	for _, table := range tables {
		query := fmt.Sprintf("DELETE %s", table)
		if _, err := surrealdb.Query[any](ctx, c.db, query, nil); err != nil {
			return fmt.Errorf("statusstore: delete %s: %w", table, err)
		}
	}
	return nil
}

var _ Store = (*Client)(nil)
