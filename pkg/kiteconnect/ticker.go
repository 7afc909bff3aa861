package kiteconnect

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"scalper-systemv1/internal/model"
)

const (
	heartbeatInterval = 10 * time.Second
	writeTimeout      = 5 * time.Second
)

// Ticker is a websocket market feed client. It maintains the connection,
// resubscribes after a reconnect, and delivers each quote frame to OnTick.
// The OnTick callback runs on the read loop goroutine and must not block;
// feed the update into a ring buffer or channel and return.
type Ticker struct {
	feedURL     string
	apiKey      string
	accessToken string

	dialer *websocket.Dialer

	mu         sync.Mutex
	conn       *websocket.Conn
	subscribed map[string]bool
	closed     bool

	// reconnect tuning
	maxRetries int
	retryDelay time.Duration

	// Callbacks, set before Serve.
	OnTick    func(model.RawUpdate)
	OnConnect func()
	OnClose   func()
	OnError   func(err error)
}

// subscribeMsg is the feed control frame: {"a": "subscribe", "v": [tokens]}.
type subscribeMsg struct {
	Action string   `json:"a"`
	Tokens []string `json:"v"`
}

// NewTicker creates a feed client for feedURL. Credentials go into the
// handshake headers; the simulator feed ignores them.
func NewTicker(feedURL, apiKey, accessToken string) *Ticker {
	return &Ticker{
		feedURL:     feedURL,
		apiKey:      apiKey,
		accessToken: accessToken,
		dialer:      websocket.DefaultDialer,
		subscribed:  make(map[string]bool),
		maxRetries:  10,
		retryDelay:  2 * time.Second,
	}
}

// Subscribe adds tokens to the subscription set and, when connected, sends
// the subscribe frame. The set survives reconnects.
func (t *Ticker) Subscribe(tokens []string) error {
	t.mu.Lock()
	fresh := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if !t.subscribed[tok] {
			t.subscribed[tok] = true
			fresh = append(fresh, tok)
		}
	}
	conn := t.conn
	t.mu.Unlock()

	if len(fresh) == 0 || conn == nil {
		return nil
	}
	return t.writeJSON(subscribeMsg{Action: "subscribe", Tokens: fresh})
}

// Unsubscribe removes tokens from the subscription set.
func (t *Ticker) Unsubscribe(tokens []string) error {
	t.mu.Lock()
	for _, tok := range tokens {
		delete(t.subscribed, tok)
	}
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	return t.writeJSON(subscribeMsg{Action: "unsubscribe", Tokens: tokens})
}

// Serve connects and reads until ctx is cancelled, reconnecting with
// backoff on failures. It returns after ctx cancellation or once the retry
// budget is exhausted.
func (t *Ticker) Serve(ctx context.Context) error {
	retries := 0
	for {
		if err := t.connect(ctx); err != nil {
			retries++
			if retries > t.maxRetries {
				if t.OnError != nil {
					t.OnError(err)
				}
				return errors.New("kiteconnect: feed retry budget exhausted")
			}
			delay := t.retryDelay * time.Duration(retries)
			log.Printf("[ticker] connect failed (%v), retry %d/%d in %v", err, retries, t.maxRetries, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		retries = 0

		err := t.readLoop(ctx)
		t.teardown()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if t.isClosed() {
			return nil
		}
		log.Printf("[ticker] feed dropped (%v), reconnecting", err)
	}
}

// Close shuts the feed down for good. Serve returns after the in-flight
// read completes.
func (t *Ticker) Close() {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
		conn.Close()
	}
}

func (t *Ticker) connect(ctx context.Context) error {
	header := http.Header{}
	if t.apiKey != "" {
		header.Set("X-Kite-Version", kiteVersion)
		header.Set("Authorization", "token "+t.apiKey+":"+t.accessToken)
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.feedURL, header)
	if err != nil {
		if resp != nil {
			log.Printf("[ticker] dial failed, status %s", resp.Status)
		}
		return err
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(3 * heartbeatInterval))
	})
	conn.SetReadDeadline(time.Now().Add(3 * heartbeatInterval))

	t.mu.Lock()
	t.conn = conn
	tokens := make([]string, 0, len(t.subscribed))
	for tok := range t.subscribed {
		tokens = append(tokens, tok)
	}
	t.mu.Unlock()

	if len(tokens) > 0 {
		if err := t.writeJSON(subscribeMsg{Action: "subscribe", Tokens: tokens}); err != nil {
			conn.Close()
			return err
		}
	}

	go t.heartbeat(conn)

	log.Printf("[ticker] connected to %s (%d subscriptions)", t.feedURL, len(tokens))
	if t.OnConnect != nil {
		t.OnConnect()
	}
	return nil
}

func (t *Ticker) readLoop(ctx context.Context) error {
	defer func() {
		if t.OnClose != nil {
			t.OnClose()
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return errors.New("no connection")
		}

		mt, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.TextMessage {
			continue
		}

		var u model.RawUpdate
		if err := json.Unmarshal(message, &u); err != nil {
			log.Printf("[ticker] bad frame: %v", err)
			continue
		}
		if u.Token == "" {
			continue // control frame
		}
		if t.OnTick != nil {
			t.OnTick(u)
		}
	}
}

func (t *Ticker) heartbeat(conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for range ticker.C {
		t.mu.Lock()
		current := t.conn
		t.mu.Unlock()
		if current != conn {
			return // superseded by a reconnect
		}
		if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
			return
		}
	}
}

func (t *Ticker) writeJSON(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return errors.New("no connection")
	}
	t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteJSON(v)
}

func (t *Ticker) teardown() {
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.mu.Unlock()
}

func (t *Ticker) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
