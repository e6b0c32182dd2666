package segmentation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var errConnectionLost = errors.New("segmentation connection lost")

type wsRequest struct {
	ID        string       `json:"id"`
	Op        string       `json:"op"`
	SessionID string       `json:"session_id,omitempty"`
	Config    *ModelConfig `json:"config,omitempty"`
	Request   *Request     `json:"request,omitempty"`
}

type wsResponse struct {
	ID          string   `json:"id"`
	SessionID   string   `json:"session_id,omitempty"`
	Suggestions []Result `json:"suggestions,omitempty"`
	Error       string   `json:"error,omitempty"`
	Code        int      `json:"code,omitempty"`
}

// WSClient keeps one WebSocket to the segmentation service and multiplexes
// concurrent requests over it by request id. The connection is dialed on
// first use and again after it drops.
type WSClient struct {
	url          string
	log          *logrus.Logger
	dialer       *websocket.Dialer
	pingInterval time.Duration
	writeTimeout time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan wsResponse
	seq     uint64

	writeMu sync.Mutex
}

// NewWSClient creates a client for serverURL. http and https URLs are
// rewritten to ws and wss with a /ws path.
func NewWSClient(serverURL string, log *logrus.Logger) *WSClient {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	return &WSClient{
		url:          wsURL(serverURL),
		log:          log,
		dialer:       &dialer,
		pingInterval: 30 * time.Second,
		writeTimeout: 5 * time.Second,
		pending:      make(map[string]chan wsResponse),
	}
}

func wsURL(serverURL string) string {
	u := strings.TrimSuffix(serverURL, "/")
	switch {
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://") + "/ws"
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://") + "/ws"
	}
	return u
}

func (c *WSClient) StartSession(ctx context.Context, cfg ModelConfig) (string, error) {
	resp, err := c.call(ctx, wsRequest{Op: "start", Config: &cfg})
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("start session: empty session id")
	}
	return resp.SessionID, nil
}

func (c *WSClient) Segment(ctx context.Context, sessionID string, req Request) ([]Result, error) {
	resp, err := c.call(ctx, wsRequest{Op: "segment", SessionID: sessionID, Request: &req})
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", req.Kind, err)
	}
	return resp.Suggestions, nil
}

func (c *WSClient) EndSession(ctx context.Context, sessionID string) error {
	if _, err := c.call(ctx, wsRequest{Op: "end", SessionID: sessionID}); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// Close drops the connection. In-flight calls fail with a connection error.
func (c *WSClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.drop(conn, errConnectionLost)
	return nil
}

func (c *WSClient) call(ctx context.Context, req wsRequest) (wsResponse, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return wsResponse{}, err
	}

	ch := make(chan wsResponse, 1)
	c.mu.Lock()
	c.seq++
	req.ID = strconv.FormatUint(c.seq, 10)
	c.pending[req.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(req)
	if err != nil {
		return wsResponse{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.drop(conn, err)
		return wsResponse{}, fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Code == http.StatusNotFound {
			return resp, ErrNoSession
		}
		if resp.Error != "" {
			return resp, errors.New(resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return wsResponse{}, ctx.Err()
	}
}

func (c *WSClient) connection(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}

	c.log.WithFields(logrus.Fields{"url": c.url}).Info("[segmentation.connection] connecting")
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}

	conn.SetPingHandler(func(appData string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		if err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.writeTimeout)); err != nil {
			c.log.WithFields(logrus.Fields{"error": err.Error()}).Warn("[segmentation.connection] error sending pong")
		}
		return nil
	})

	c.conn = conn
	go c.readLoop(conn)
	go c.keepAlive(conn)
	return conn, nil
}

func (c *WSClient) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.drop(conn, err)
			return
		}

		var resp wsResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			c.log.WithFields(logrus.Fields{"error": err.Error()}).Warn("[segmentation.readLoop] malformed message")
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		c.mu.Unlock()
		if !ok {
			c.log.WithFields(logrus.Fields{"id": resp.ID}).Debug("[segmentation.readLoop] response for abandoned request")
			continue
		}
		ch <- resp
	}
}

func (c *WSClient) keepAlive(conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		current := c.conn
		c.mu.Unlock()
		if current != conn {
			return
		}

		c.writeMu.Lock()
		err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(c.writeTimeout))
		c.writeMu.Unlock()
		if err != nil {
			c.drop(conn, err)
			return
		}
	}
}

// drop forgets conn and fails every request waiting on it.
func (c *WSClient) drop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	pending := c.pending
	c.pending = make(map[string]chan wsResponse)
	c.mu.Unlock()

	conn.Close()
	c.log.WithFields(logrus.Fields{"error": cause.Error()}).Warn("[segmentation.drop] connection dropped")
	for _, ch := range pending {
		select {
		case ch <- wsResponse{Error: errConnectionLost.Error()}:
		default:
		}
	}
}
