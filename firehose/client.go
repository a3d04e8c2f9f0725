package firehose

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/aliceisjustplaying/languagestats-bsky/errors"
	"github.com/aliceisjustplaying/languagestats-bsky/metric"
)

// ConnectionState is the client's position in the connect/reconnect machine.
type ConnectionState int32

const (
	// StateDisconnected means no connection exists and none is being opened.
	StateDisconnected ConnectionState = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateOpen means frames are being read.
	StateOpen
	// StateBackoff means the client is waiting out a reconnect delay.
	StateBackoff
)

// String returns the string representation of ConnectionState
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// Handler consumes decoded commits in per-connection arrival order. A handler
// error drops that one event: the client counts it and moves to the next
// frame, it never closes the connection.
type Handler interface {
	HandleCommit(ctx context.Context, rec *CommitRecord) error
}

// CursorView is a non-blocking read of the current resume cursor.
type CursorView interface {
	Load() int64
}

// Config holds the stream client configuration.
type Config struct {
	// URL is the subscription endpoint (ws:// or wss://).
	URL string

	// Collections is the wanted-collection filter sent to the upstream and
	// enforced again by the decoder.
	Collections []string

	// BaseDelay and MaxDelay bound the exponential reconnect backoff.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// HandshakeTimeout bounds the WebSocket dial. Zero means 45s.
	HandshakeTimeout time.Duration

	// RejectionLogBudget is the number of rejection log lines allowed per
	// minute. Zero means 100, matching the upstream deployment.
	RejectionLogBudget int
}

// Client owns the long-lived firehose connection. It dials with the current
// resume cursor, feeds every frame through the decoder, dispatches decoded
// commits to the handler strictly in arrival order, and reconnects with
// exponential backoff on any transport failure.
type Client struct {
	config  Config
	decoder *Decoder
	handler Handler
	cursor  CursorView
	metrics *metric.Metrics
	logger  *slog.Logger

	// rejectionLog throttles decode-rejection logging so a malformed upstream
	// burst cannot amplify into a log flood.
	rejectionLog *rate.Limiter

	state    atomic.Int32
	attempts atomic.Int32

	dialer *websocket.Dialer

	conn   *websocket.Conn
	connMu sync.Mutex

	// Lifecycle management
	shutdown     chan struct{}
	shutdownOnce sync.Once
	started      atomic.Bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	lifecycleMu  sync.Mutex
}

// NewClient creates a stream client. The handler and cursor view are
// required; metrics may be nil.
func NewClient(
	config Config,
	handler Handler,
	cursor CursorView,
	metrics *metric.Metrics,
	logger *slog.Logger,
) (*Client, error) {
	if config.URL == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Client", "NewClient", "validate url")
	}
	if handler == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Client", "NewClient", "validate handler")
	}
	if cursor == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Client", "NewClient", "validate cursor view")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 45 * time.Second
	}
	logBudget := config.RejectionLogBudget
	if logBudget <= 0 {
		logBudget = 100
	}

	return &Client{
		config:       config,
		decoder:      NewDecoder(config.Collections),
		handler:      handler,
		cursor:       cursor,
		metrics:      metrics,
		logger:       logger.With("component", "firehose"),
		rejectionLog: rate.NewLimiter(rate.Every(time.Minute/time.Duration(logBudget)), logBudget),
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
		},
		shutdown: make(chan struct{}),
	}, nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// Start launches the connect loop.
func (c *Client) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.started.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Client", "Start", "check started state")
	}

	// Fresh shutdown signal so a stopped client can be started again.
	c.shutdown = make(chan struct{})
	c.shutdownOnce = sync.Once{}

	clientCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.connectLoop(clientCtx, c.shutdown)

	c.started.Store(true)
	return nil
}

// Stop closes the connection and waits for the connect loop to exit, bounded
// by timeout.
func (c *Client) Stop(timeout time.Duration) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if !c.started.Load() {
		return nil // Already stopped
	}

	c.shutdownOnce.Do(func() {
		close(c.shutdown)
	})
	c.cancel()

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.connMu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(doneCh)
	}()

	// Mark stopped on both exits; a timed-out Stop must not wedge the
	// client in a state where Start is rejected forever.
	c.started.Store(false)

	select {
	case <-doneCh:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(
			errors.ErrConnectionTimeout,
			"Client", "Stop", "wait for connect loop")
	}
}

// connectLoop drives the state machine: connect, read until failure, back
// off, reconnect with the current watermark. It exits only on shutdown.
func (c *Client) connectLoop(ctx context.Context, shutdown <-chan struct{}) {
	defer c.wg.Done()
	defer c.setState(StateDisconnected)

	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			return
		default:
		}

		c.setState(StateConnecting)
		subscribeURL := c.subscribeURL(c.cursor.Load())
		c.logger.Info("connecting to firehose", "url", subscribeURL)

		conn, _, err := c.dialer.DialContext(ctx, subscribeURL, nil)
		if err != nil {
			c.trackError(errors.WrapTransient(err, "Client", "connectLoop", "dial firehose"))
			c.logger.Warn("firehose dial failed", "error", err)
			if !c.backoff(ctx, shutdown) {
				return
			}
			continue
		}

		// Successful open resets the backoff schedule.
		c.attempts.Store(0)
		c.setState(StateOpen)
		c.logger.Info("connected to firehose")

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()

		c.readLoop(ctx, shutdown, conn)

		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		_ = conn.Close()
		c.setState(StateDisconnected)

		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			return
		default:
		}

		if !c.backoff(ctx, shutdown) {
			return
		}
	}
}

// readLoop reads frames until the connection fails or shutdown is signalled.
// Reads block without a deadline: a failed read on a gorilla client
// connection is sticky, so the connection is never read again after an
// error. Stop unblocks a pending read by closing the connection. Frames are
// dispatched synchronously: processing order is strictly FIFO per connection.
func (c *Client) readLoop(ctx context.Context, shutdown <-chan struct{}, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			return
		default:
			_, message, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-shutdown:
					// Stop closed the connection under us.
					return
				default:
				}
				c.trackError(errors.WrapTransient(err, "Client", "readLoop", "read frame"))
				c.logger.Warn("firehose connection lost", "error", err)
				return
			}

			c.dispatch(ctx, message)
		}
	}
}

// dispatch decodes one frame and hands the result to the handler. Rejections
// and handler failures are counted and drop the event; neither aborts the
// connection.
func (c *Client) dispatch(ctx context.Context, data []byte) {
	rec, rej := c.decoder.Decode(data)
	if rej != nil {
		c.metrics.RecordRejection(rej.Reason.String())
		if rej.Reason == ReasonIgnoredKind {
			// Account/identity events are expected traffic, not errors.
			return
		}
		c.metrics.RecordUnexpectedEvent(rej.Kind, rej.Collection)
		if c.rejectionLog.Allow() {
			c.logger.Warn("rejected firehose event",
				"reason", rej.Reason.String(),
				"kind", rej.Kind,
				"collection", rej.Collection,
				"error", rej.Error())
		}
		return
	}

	if err := c.handler.HandleCommit(ctx, rec); err != nil {
		// Best-effort boundary: the event is dropped after logging and the
		// stream continues with the next frame.
		c.trackError(err)
		c.logger.Error("commit dispatch failed",
			"post_id", rec.PostID,
			"operation", rec.Operation.String(),
			"cursor", rec.Cursor,
			"error", err)
	}
}

// backoff sleeps out the next reconnect delay. It returns false when shutdown
// was signalled during the wait.
func (c *Client) backoff(ctx context.Context, shutdown <-chan struct{}) bool {
	attempt := c.attempts.Add(1)
	c.metrics.RecordReconnect()
	c.setState(StateBackoff)

	delay := backoffDelay(c.config.BaseDelay, c.config.MaxDelay, int(attempt))
	c.logger.Info("reconnecting after backoff", "attempt", attempt, "delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-shutdown:
		return false
	case <-timer.C:
		return true
	}
}

// backoffDelay computes min(base * 2^attempt, ceiling).
func backoffDelay(base, ceiling time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= ceiling {
			return ceiling
		}
	}
	return delay
}

// subscribeURL builds the subscription URL with the wanted-collection filter
// and, when non-zero, the resume cursor.
func (c *Client) subscribeURL(cursor int64) string {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		// An unparseable URL will fail the dial with a clear error anyway.
		return c.config.URL
	}

	query := u.Query()
	for _, collection := range c.config.Collections {
		query.Add("wantedCollections", collection)
	}
	if cursor > 0 {
		query.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// setState updates the state machine and its gauge.
func (c *Client) setState(state ConnectionState) {
	c.state.Store(int32(state))
	c.metrics.SetConnectionState(int(state))
}

// trackError counts an error under its classification.
func (c *Client) trackError(err error) {
	c.metrics.RecordError(errors.Classify(err).String())
}
