// Package store is the vector-store adapter: it owns the single logical
// connection to SAP HANA, bootstraps the corpus schema, and executes
// parameterised SQL with transient-error recovery.
package store

import (
	"context"
	"database/sql"
	sqldriver "database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	hdbdriver "github.com/SAP/go-hdb/driver"
	"github.com/cenkalti/backoff/v4"

	"github.com/vectral-ai/corpus-engine/internal/domain"
	"github.com/vectral-ai/corpus-engine/internal/metrics"
	"github.com/vectral-ai/corpus-engine/internal/observability"
)

// Config holds the adapter settings.
type Config struct {
	Host              string
	Port              int
	User              string
	Password          string
	ChunkTable        string
	HeaderTable       string
	ImageTable        string
	VectorDim         int
	ConnectTimeout    time.Duration
	ConnectRetries    int
	ConnectRetryDelay time.Duration
	ConnectRetryCap   time.Duration
	ExecuteTimeout    time.Duration
}

// Result holds the outcome of a statement: rows for queries, the
// affected-row count for DML.
type Result struct {
	Rows         []Row
	RowsAffected int64
}

// Executor is the statement-execution surface the rest of the engine
// depends on.
type Executor interface {
	ExecuteSimple(ctx context.Context, query string, params ...any) (*Result, error)
}

// Client is the adapter over one logical HANA connection. Executions
// serialise through the driver (max one open conn); Connect is idempotent
// and memoises the in-flight attempt.
type Client struct {
	cfg     Config
	logger  *observability.Logger
	metrics *metrics.Metrics

	driverName string

	mu          sync.Mutex
	db          *sql.DB
	connected   bool
	inflight    chan struct{}
	lastConnErr error
}

// NewClient creates an adapter for the given store. No connection is made
// until Connect or the first execution.
func NewClient(cfg Config, logger *observability.Logger, m *metrics.Metrics) *Client {
	if cfg.ConnectRetries <= 0 {
		cfg.ConnectRetries = 6
	}
	if cfg.ConnectRetryDelay <= 0 {
		cfg.ConnectRetryDelay = 1 * time.Second
	}
	if cfg.ConnectRetryCap <= 0 {
		cfg.ConnectRetryCap = 30 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		logger:     logger.WithComponent("store"),
		metrics:    m,
		driverName: hdbdriver.DriverName,
	}
}

// dsn assembles the go-hdb connection URL. Port 443 is HANA Cloud and
// needs TLS with the host as server name.
func (c *Client) dsn() string {
	u := &url.URL{
		Scheme: "hdb",
		User:   url.UserPassword(c.cfg.User, c.cfg.Password),
		Host:   fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port),
	}
	if c.cfg.Port == 443 {
		q := url.Values{}
		q.Set("TLSServerName", c.cfg.Host)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Connect opens the connection if needed. Concurrent callers while an
// attempt is in flight await that attempt's result instead of dialing again.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	if c.inflight != nil {
		ch := c.inflight
		c.mu.Unlock()
		select {
		case <-ch:
			c.mu.Lock()
			err := c.lastConnErr
			c.mu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	ch := make(chan struct{})
	c.inflight = ch
	c.mu.Unlock()

	err := c.connect(ctx)

	c.mu.Lock()
	c.connected = err == nil
	c.lastConnErr = err
	c.inflight = nil
	c.mu.Unlock()
	close(ch)
	return err
}

// connect runs the dial-and-ping loop under exponential backoff.
func (c *Client) connect(ctx context.Context) error {
	attempt := 0
	operation := func() error {
		attempt++
		db, err := sql.Open(c.driverName, c.dsn())
		if err != nil {
			c.logger.Warn().Int("attempt", attempt).Err(err).Msg("store open failed")
			return err
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		pingCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			// Drop the partially-initialised handle before retrying.
			_ = db.Close()
			c.logger.Warn().Int("attempt", attempt).Err(err).Msg("store ping failed")
			return err
		}

		c.mu.Lock()
		c.db = db
		c.mu.Unlock()
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.ConnectRetryDelay
	bo.MaxInterval = c.cfg.ConnectRetryCap
	bo.MaxElapsedTime = 0

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.ConnectRetries)), ctx))
	if err != nil {
		return domain.TransientStoreError(
			fmt.Sprintf("connect failed after %d attempts", attempt), err)
	}

	c.logger.Info().Str("host", c.cfg.Host).Int("attempts", attempt).Msg("store connected")
	return nil
}

// ResetConnection drops the current handle. The next Connect dials fresh.
func (c *Client) ResetConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		_ = c.db.Close()
		c.db = nil
	}
	c.connected = false
}

// Close releases the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// Ping verifies the connection end to end.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ExecuteSimple(ctx, "SELECT 1 FROM DUMMY")
	return err
}

// ExecuteSimple prepares, executes, and drops a statement. A
// connection-class failure triggers reset → reconnect → one retry; the
// second failure is surfaced.
func (c *Client) ExecuteSimple(ctx context.Context, query string, params ...any) (*Result, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := c.execOnce(ctx, query, params)
	if c.metrics != nil {
		c.metrics.ExecuteDuration.Observe(time.Since(start).Seconds())
	}
	if err == nil {
		return res, nil
	}
	if !IsTransientError(err) || ctx.Err() != nil {
		return nil, domain.StoreError("statement failed", err)
	}

	c.logger.Warn().Err(err).Msg("transient store error, reconnecting")
	if c.metrics != nil {
		c.metrics.Reconnects.Inc()
	}
	c.ResetConnection()
	if cerr := c.Connect(ctx); cerr != nil {
		return nil, domain.StoreError("reconnect failed", cerr)
	}

	res, err = c.execOnce(ctx, query, params)
	if err != nil {
		return nil, domain.StoreError("statement failed after reconnect", err)
	}
	return res, nil
}

// execOnce runs one prepared statement with a bounded deadline. The
// statement handle is released on every path.
func (c *Client) execOnce(ctx context.Context, query string, params []any) (*Result, error) {
	c.mu.Lock()
	db := c.db
	c.mu.Unlock()
	if db == nil {
		return nil, sqldriver.ErrBadConn
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ExecuteTimeout)
	defer cancel()

	stmt, err := db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	if isQueryStatement(query) {
		rows, err := stmt.QueryContext(ctx, params...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		out, err := scanRows(rows)
		if err != nil {
			return nil, err
		}
		return &Result{Rows: out}, nil
	}

	res, err := stmt.ExecContext(ctx, params...)
	if err != nil {
		return nil, err
	}
	affected, _ := res.RowsAffected()
	return &Result{RowsAffected: affected}, nil
}

// isQueryStatement reports whether the statement yields a result set.
func isQueryStatement(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	return strings.HasPrefix(q, "SELECT") || strings.HasPrefix(q, "WITH")
}

// transientMarkers is the connection-class failure set that is safe to
// retry after a reconnect.
var transientMarkers = []string{
	"connection closed",
	"connection reset",
	"connection refused",
	"broken pipe",
	"use of closed network connection",
	"socket hang up",
	"initialization reply",
	"operation timeout",
	"bad connection",
}

// IsTransientError reports whether err is a connection-class store error.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sqldriver.ErrBadConn) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// A statement-scoped deadline counts as an operation timeout; the
	// caller checks its own context before retrying.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
