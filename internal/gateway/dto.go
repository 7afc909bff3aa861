package gateway

import "encoding/json"

// SubscribeMsg narrows a client to a set of channels,
// e.g. {"type":"SUBSCRIBE","channels":["ladder:NIFTY","position:paper"]}.
type SubscribeMsg struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
	ReqID    string   `json:"req_id,omitempty"`
}

// UnsubscribeMsg removes channels from a client's set.
type UnsubscribeMsg struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
	ReqID    string   `json:"req_id,omitempty"`
}

// ErrorMsg is sent to a client on a malformed request.
type ErrorMsg struct {
	Type  string `json:"type"`
	ReqID string `json:"req_id,omitempty"`
	Error string `json:"error"`
}

// SendJSON marshals v and queues it on the client's send channel,
// dropping on backpressure.
func SendJSON(c *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// SendError queues an error message for the client.
func SendError(c *Client, reqID, msg string) {
	SendJSON(c, ErrorMsg{Type: "error", ReqID: reqID, Error: msg})
}
