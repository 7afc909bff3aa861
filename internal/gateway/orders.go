package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"scalper-systemv1/internal/model"
)

// orderCommandChannel mirrors the engine's command subscription.
const orderCommandChannel = "cmd:orders"

// placeRequest is the terminal's order entry body. Qty and mode fall back
// to the persisted terminal settings when omitted.
type placeRequest struct {
	InstrumentKey string `json:"instrument_key"` // "exchange:token"
	Type          string `json:"type"`           // BUY or SELL
	Qty           int64  `json:"qty"`            // lots
	Mode          string `json:"mode"`
}

type cancelRequest struct {
	OrderID string `json:"order_id"`
	Mode    string `json:"mode"`
}

type exitRequest struct {
	PositionID string `json:"position_id"`
}

// registerOrderRoutes wires the order entry endpoints. Commands are relayed
// to the engine over Redis PubSub; resulting state transitions come back to
// the terminal on the pub:order:<mode> channel.
func registerOrderRoutes(mux *http.ServeMux, hub *Hub, rdb *goredis.Client) {
	mux.HandleFunc("/api/orders", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, `{"error":"POST only"}`, http.StatusMethodNotAllowed)
			return
		}

		var req placeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
			return
		}

		settings := hub.Settings.Get()
		if req.Mode == "" {
			req.Mode = settings.Mode
		}
		if req.Qty == 0 {
			req.Qty = settings.DefaultQty
		}

		if req.InstrumentKey == "" {
			http.Error(w, `{"error":"instrument_key is required"}`, http.StatusBadRequest)
			return
		}
		if req.Type != string(model.TransactionBuy) && req.Type != string(model.TransactionSell) {
			http.Error(w, `{"error":"type must be BUY or SELL"}`, http.StatusBadRequest)
			return
		}
		if req.Qty <= 0 {
			http.Error(w, `{"error":"qty must be positive"}`, http.StatusBadRequest)
			return
		}
		if req.Mode != string(model.ModeLive) && req.Mode != string(model.ModePaper) {
			http.Error(w, `{"error":"mode must be live or paper"}`, http.StatusBadRequest)
			return
		}

		cmd := model.OrderCommand{
			Action:        "place",
			ReqID:         newReqID(),
			InstrumentKey: req.InstrumentKey,
			Type:          model.TransactionType(req.Type),
			Qty:           req.Qty,
			Mode:          model.Mode(req.Mode),
		}
		if err := publishCommand(r.Context(), rdb, cmd); err != nil {
			log.Printf("[gateway] order command publish failed: %v", err)
			http.Error(w, `{"error":"engine unreachable"}`, http.StatusBadGateway)
			return
		}

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "accepted",
			"req_id": cmd.ReqID,
		})
	})

	// Blotter rehydration: newest entries of the mode's order audit stream,
	// /api/orders/recent?mode=paper&limit=50
	mux.HandleFunc("/api/orders/recent", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		mode := r.URL.Query().Get("mode")
		if mode == "" {
			mode = hub.Settings.Get().Mode
		}
		if mode != string(model.ModeLive) && mode != string(model.ModePaper) {
			http.Error(w, `{"error":"mode must be live or paper"}`, http.StatusBadRequest)
			return
		}
		limit := int64(50)
		if l, err := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64); err == nil && l > 0 && l <= 500 {
			limit = l
		}

		msgs, err := rdb.XRevRangeN(r.Context(), "orders:"+mode, "+", "-", limit).Result()
		if err != nil && err != goredis.Nil {
			log.Printf("[gateway] order stream read failed: %v", err)
			http.Error(w, `{"error":"order stream read failed"}`, http.StatusInternalServerError)
			return
		}

		updates := make([]model.OrderUpdate, 0, len(msgs))
		for _, msg := range msgs {
			data, ok := msg.Values["data"].(string)
			if !ok {
				continue
			}
			var u model.OrderUpdate
			if err := json.Unmarshal([]byte(data), &u); err != nil {
				continue
			}
			updates = append(updates, u)
		}
		json.NewEncoder(w).Encode(updates)
	})

	// One-click flatten: the engine submits an opposing order for the
	// position's full open quantity.
	mux.HandleFunc("/api/orders/exit", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, `{"error":"POST only"}`, http.StatusMethodNotAllowed)
			return
		}

		var req exitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PositionID == "" {
			http.Error(w, `{"error":"position_id is required"}`, http.StatusBadRequest)
			return
		}

		cmd := model.OrderCommand{
			Action:     "exit",
			ReqID:      newReqID(),
			PositionID: req.PositionID,
		}
		if err := publishCommand(r.Context(), rdb, cmd); err != nil {
			log.Printf("[gateway] exit command publish failed: %v", err)
			http.Error(w, `{"error":"engine unreachable"}`, http.StatusBadGateway)
			return
		}

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "accepted",
			"req_id": cmd.ReqID,
		})
	})

	mux.HandleFunc("/api/orders/cancel", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, `{"error":"POST only"}`, http.StatusMethodNotAllowed)
			return
		}

		var req cancelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
			http.Error(w, `{"error":"order_id is required"}`, http.StatusBadRequest)
			return
		}

		cmd := model.OrderCommand{
			Action:  "cancel",
			ReqID:   newReqID(),
			OrderID: req.OrderID,
			Mode:    model.Mode(req.Mode),
		}
		if err := publishCommand(r.Context(), rdb, cmd); err != nil {
			log.Printf("[gateway] cancel command publish failed: %v", err)
			http.Error(w, `{"error":"engine unreachable"}`, http.StatusBadGateway)
			return
		}

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "accepted",
			"req_id": cmd.ReqID,
		})
	})
}

func publishCommand(ctx context.Context, rdb *goredis.Client, cmd model.OrderCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rdb.Publish(pubCtx, orderCommandChannel, data).Err()
}

// newReqID mints a correlation id for an accepted command.
func newReqID() string {
	return "REQ-" + strconv.FormatInt(time.Now().UnixNano(), 36)
}
