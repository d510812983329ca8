package solana

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"solana-wallet-ledger/internal/observability"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription confirmation.
	SubscribeTimeout time.Duration
	// BufferSize is the per-subscription notification buffer.
	BufferSize int
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
		BufferSize:        16,
	}
}

var errClientClosed = errors.New("websocket client closed")

// subscription is the client-side state of one logs subscription.
type subscription struct {
	handle   uint64
	serverID int64
	filter   LogsFilter
	ch       chan LogNotification
	closed   bool // guarded by subsMu
}

// pendingSub waits for the server to confirm a logsSubscribe request.
type pendingSub struct {
	sub  *subscription
	done chan struct{}
}

// WSClientImpl implements WSClient using gorilla/websocket.
//
// Notifications are delivered without blocking the read loop: when a
// subscriber's buffer is full the notification is dropped and counted.
// Subscribers use notifications as wakeups, not as a data feed.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig
	logger   *zap.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64
	handles   atomic.Uint64

	subsMu   sync.RWMutex
	byHandle map[uint64]*subscription
	byServer map[int64]*subscription

	// pendingSubs maps request ID to the subscription awaiting its server id
	pendingSubs   map[uint64]*pendingSub
	pendingSubsMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// NewWSClient creates a new WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig, logger *zap.Logger) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &WSClientImpl{
		endpoint:    endpoint,
		config:      cfg,
		logger:      logger.Named("ws"),
		byHandle:    make(map[uint64]*subscription),
		byServer:    make(map[int64]*subscription),
		pendingSubs: make(map[uint64]*pendingSub),
		done:        make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

func (c *WSClientImpl) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "websocket dial")
	}

	c.conn = conn
	return nil
}

// SubscribeLogs subscribes to transaction logs matching the filter.
func (c *WSClientImpl) SubscribeLogs(ctx context.Context, filter LogsFilter) (*LogSubscription, error) {
	if c.closed.Load() {
		return nil, errClientClosed
	}

	sub := &subscription{
		handle:   c.handles.Add(1),
		serverID: -1,
		filter:   filter,
		ch:       make(chan LogNotification, c.config.BufferSize),
	}

	if err := c.subscribe(ctx, sub); err != nil {
		c.subsMu.Lock()
		sub.closed = true
		if c.byServer[sub.serverID] == sub {
			delete(c.byServer, sub.serverID)
		}
		c.subsMu.Unlock()
		return nil, err
	}

	c.subsMu.Lock()
	c.byHandle[sub.handle] = sub
	c.subsMu.Unlock()

	return &LogSubscription{handle: sub.handle, C: sub.ch}, nil
}

// Unsubscribe cancels a subscription and closes its channel.
func (c *WSClientImpl) Unsubscribe(_ context.Context, ls *LogSubscription) error {
	if ls == nil {
		return nil
	}

	c.subsMu.Lock()
	sub, ok := c.byHandle[ls.handle]
	if ok {
		delete(c.byHandle, ls.handle)
		if c.byServer[sub.serverID] == sub {
			delete(c.byServer, sub.serverID)
		}
		sub.closed = true
		close(sub.ch)
	}
	c.subsMu.Unlock()

	if !ok || c.closed.Load() {
		return nil
	}

	// The server acknowledges with a bare boolean; nothing waits for it.
	return c.write(wsRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  "logsUnsubscribe",
		Params:  []interface{}{sub.serverID},
	})
}

// Close closes the WebSocket connection.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.subsMu.Lock()
	for handle, sub := range c.byHandle {
		sub.closed = true
		close(sub.ch)
		delete(c.byHandle, handle)
	}
	c.byServer = make(map[int64]*subscription)
	c.subsMu.Unlock()

	c.pendingSubsMu.Lock()
	for id := range c.pendingSubs {
		delete(c.pendingSubs, id)
	}
	c.pendingSubsMu.Unlock()

	c.wg.Wait()
	return nil
}

// subscribe sends logsSubscribe for sub and waits until the read loop has
// registered the server-side id.
func (c *WSClientImpl) subscribe(ctx context.Context, sub *subscription) error {
	reqID := c.requestID.Add(1)

	mentionsFilter := make(map[string]interface{})
	if len(sub.filter.Mentions) > 0 {
		mentionsFilter["mentions"] = sub.filter.Mentions
	} else {
		mentionsFilter["all"] = nil
	}

	pending := &pendingSub{sub: sub, done: make(chan struct{})}
	c.pendingSubsMu.Lock()
	c.pendingSubs[reqID] = pending
	c.pendingSubsMu.Unlock()

	forget := func() {
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, reqID)
		c.pendingSubsMu.Unlock()
	}

	err := c.write(wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "logsSubscribe",
		Params: []interface{}{
			mentionsFilter,
			map[string]string{"commitment": CommitmentConfirmed},
		},
	})
	if err != nil {
		forget()
		return err
	}

	timer := time.NewTimer(c.config.SubscribeTimeout)
	defer timer.Stop()

	select {
	case <-pending.done:
		return nil
	case <-timer.C:
		forget()
		return errors.Errorf("subscription timeout after %s", c.config.SubscribeTimeout)
	case <-c.done:
		return errClientClosed
	case <-ctx.Done():
		forget()
		return ctx.Err()
	}
}

func (c *WSClientImpl) write(req wsRequest) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return errors.New("not connected")
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return errors.Wrapf(err, "write %s", req.Method)
	}
	return nil
}

// readLoop reads messages from WebSocket and dispatches to subscribers.
func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			if !c.reconnecting.Swap(true) {
				c.logger.Warn("websocket read failed, reconnecting",
					zap.Duration("delay", reconnectDelay),
					zap.Error(err))
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay *= 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = c.config.ReconnectDelay
		c.handleMessage(message)
	}
}

// reconnect replaces the connection and resubscribes every live subscription.
func (c *WSClientImpl) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.logger.Warn("websocket reconnect failed", zap.Error(err))
		return
	}

	c.resubscribeAll()
}

func (c *WSClientImpl) resubscribeAll() {
	c.subsMu.RLock()
	subs := make([]*subscription, 0, len(c.byHandle))
	for _, sub := range c.byHandle {
		subs = append(subs, sub)
	}
	c.subsMu.RUnlock()

	for _, sub := range subs {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.subscribe(ctx, sub)
		cancel()
		if err != nil {
			c.logger.Warn("resubscribe failed", zap.Strings("mentions", sub.filter.Mentions), zap.Error(err))
		}
	}
}

func (c *WSClientImpl) handleMessage(message []byte) {
	var envelope wsEnvelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		c.logger.Debug("unparseable websocket message", zap.Error(err))
		return
	}

	switch {
	case envelope.Method == "logsNotification" && envelope.Params != nil:
		c.handleLogsNotification(envelope.Params)
	case envelope.Error != nil:
		c.logger.Warn("websocket error response",
			zap.Uint64("id", envelope.ID),
			zap.Int("code", envelope.Error.Code),
			zap.String("message", envelope.Error.Message))
	case envelope.ID != 0 && len(envelope.Result) > 0:
		var subID int64
		if err := json.Unmarshal(envelope.Result, &subID); err != nil {
			return // unsubscribe acknowledgements carry a boolean
		}
		c.handleSubscribeResponse(envelope.ID, subID)
	}
}

// handleSubscribeResponse maps the server id to its subscription before any
// notification for it can be read.
func (c *WSClientImpl) handleSubscribeResponse(reqID uint64, subID int64) {
	c.pendingSubsMu.Lock()
	pending, ok := c.pendingSubs[reqID]
	if ok {
		delete(c.pendingSubs, reqID)
	}
	c.pendingSubsMu.Unlock()

	if !ok {
		return
	}

	sub := pending.sub
	c.subsMu.Lock()
	if !sub.closed {
		if c.byServer[sub.serverID] == sub {
			delete(c.byServer, sub.serverID)
		}
		sub.serverID = subID
		c.byServer[subID] = sub
	}
	c.subsMu.Unlock()

	close(pending.done)
}

func (c *WSClientImpl) handleLogsNotification(params *wsNotificationParams) {
	value := params.Result.Value
	notif := LogNotification{
		Signature: value.Signature,
		Logs:      value.Logs,
		Err:       value.Err,
	}
	if params.Result.Context != nil {
		notif.Slot = params.Result.Context.Slot
	}

	// Send under the read lock so Unsubscribe cannot close the channel mid-send.
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()

	sub, ok := c.byServer[params.Subscription]
	if !ok {
		return
	}
	select {
	case sub.ch <- notif:
	default:
		observability.RecordWSDropped()
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// A failed ping is picked up by the read loop.
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsEnvelope struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      uint64                `json:"id"`
	Method  string                `json:"method"`
	Result  json.RawMessage       `json:"result"`
	Error   *rpcError             `json:"error"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext  `json:"context"`
	Value   wsLogsValue `json:"value"`
}

type wsContext struct {
	Slot int64 `json:"slot"`
}

type wsLogsValue struct {
	Signature string      `json:"signature"`
	Logs      []string    `json:"logs"`
	Err       interface{} `json:"err"`
}

var _ WSClient = (*WSClientImpl)(nil)
