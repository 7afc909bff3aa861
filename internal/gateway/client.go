package gateway

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout  = 10 * time.Second
	pongTimeout   = 60 * time.Second
	pingInterval  = 30 * time.Second
	maxInboundMsg = 4096
)

// Client is one connected terminal frontend.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// subs narrows what the client receives, e.g. "ladder:NIFTY" or
	// "position:paper". An empty set means everything.
	subMu sync.RWMutex
	subs  map[string]bool
}

// enqueue hands a frame to the write pump, dropping it if the client's
// queue is full.
func (c *Client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
	}
}

// initialEnvelope wraps a retained payload for first paint. Unlike the
// broadcast hot path this is rare, so plain json.Marshal is fine.
func initialEnvelope(channel string, entry latestEntry, reqID string) []byte {
	fields := map[string]interface{}{
		"channel": channel,
		"data":    entry.Data,
		"ts":      entry.TS.Format(time.RFC3339Nano),
		"seq":     entry.Seq,
		"initial": true,
	}
	if reqID != "" {
		fields["req_id"] = reqID
	}
	frame, _ := json.Marshal(fields)
	return frame
}

// sendInitialState pushes the latest retained payload of every channel
// so the terminal paints before the first live broadcast. A client
// reconnecting with its last-seen timestamp only gets what changed.
func (c *Client) sendInitialState(lastTS string) {
	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	for channel, entry := range c.hub.latest {
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}
		c.enqueue(initialEnvelope(channel, entry, ""))
	}
}

// writePump owns the connection's write side. Queued frames are
// coalesced into one WebSocket message with newline separators, which
// matters when a ladder burst outruns a slow terminal.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(frame)
			for queued := len(c.send); queued > 0; queued-- {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump owns the connection's read side: subscription management
// and latency probes. It unregisters the client when the peer goes away.
func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(maxInboundMsg)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var head struct {
			Type string `json:"type"`
			Ping int64  `json:"ping"`
		}
		if json.Unmarshal(raw, &head) != nil {
			continue
		}

		switch head.Type {
		case "SUBSCRIBE":
			var sub SubscribeMsg
			if err := json.Unmarshal(raw, &sub); err != nil {
				SendError(c, sub.ReqID, "invalid SUBSCRIBE: "+err.Error())
				continue
			}
			c.handleSubscribe(sub)

		case "UNSUBSCRIBE":
			var unsub UnsubscribeMsg
			if json.Unmarshal(raw, &unsub) == nil {
				c.handleUnsubscribe(unsub)
			}

		default:
			if head.Ping > 0 {
				c.answerPing(head.Ping)
			}
		}
	}
}

// answerPing echoes the client's latency probe marker with a server
// timestamp.
func (c *Client) answerPing(marker int64) {
	pong, _ := json.Marshal(map[string]interface{}{
		"type":      "pong",
		"ping":      marker,
		"server_ts": time.Now().UnixMilli(),
	})
	c.enqueue(pong)
}

// handleSubscribe narrows the client's channel set and replies with the
// latest payload of each newly subscribed channel so the terminal can
// paint immediately.
func (c *Client) handleSubscribe(msg SubscribeMsg) {
	if len(msg.Channels) == 0 {
		SendError(c, msg.ReqID, "channels are required")
		return
	}

	c.subMu.Lock()
	for _, ch := range msg.Channels {
		c.subs[ch] = true
	}
	c.subMu.Unlock()

	log.Printf("[gateway] client subscribed: %v", msg.Channels)

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	for _, ch := range msg.Channels {
		if entry, ok := c.hub.latest["pub:"+ch]; ok {
			c.enqueue(initialEnvelope("pub:"+ch, entry, msg.ReqID))
		}
	}
}

func (c *Client) handleUnsubscribe(msg UnsubscribeMsg) {
	c.subMu.Lock()
	for _, ch := range msg.Channels {
		delete(c.subs, ch)
	}
	c.subMu.Unlock()

	log.Printf("[gateway] client unsubscribed: %v", msg.Channels)
}

// matchesChannel reports whether the client wants a PubSub channel.
// Subscriptions are stored without the "pub:" prefix.
func (c *Client) matchesChannel(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if len(c.subs) == 0 {
		return true
	}
	return c.subs[strings.TrimPrefix(channel, "pub:")]
}
