package gateway

import (
	"encoding/json"
	"strconv"
	"time"
)

// replayBufCapacity is how many envelopes each channel retains for
// gap backfill.
const replayBufCapacity = 500

// Broadcaster wraps engine payloads in sequenced envelopes and fans
// them out to the subscribed terminal clients.
type Broadcaster struct {
	hub *Hub
}

func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub}
}

// buildEnvelope assembles the wire envelope by hand. json.Marshal on
// the hot path costs ~25μs per ladder frame; appending into a sized
// buffer is ~1μs.
func buildEnvelope(channel string, data []byte, now time.Time, seq, channelSeq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+160)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')
	return buf
}

// Broadcast envelopes one payload for a channel, retains it for replay
// and pushes it to every client subscribed to that channel. Slow
// clients are skipped rather than blocked on.
func (b *Broadcaster) Broadcast(channel string, data []byte) {
	now := time.Now().UTC()
	b.recordLatency(data, now)

	seq, channelSeq := b.nextSeqs(channel, data, now)
	buf := buildEnvelope(channel, data, now, seq, channelSeq)
	b.replayBuf(channel).Push(channelSeq, buf)

	b.hub.mu.RLock()
	defer b.hub.mu.RUnlock()
	for client := range b.hub.clients {
		if !client.matchesChannel(channel) {
			continue
		}
		select {
		case client.send <- buf:
		default:
		}
	}
}

// nextSeqs advances the global and per-channel sequences and records
// the payload as the channel's latest snapshot.
func (b *Broadcaster) nextSeqs(channel string, data []byte, now time.Time) (seq, channelSeq int64) {
	b.hub.mu.Lock()
	defer b.hub.mu.Unlock()
	b.hub.channelSeqs[channel]++
	channelSeq = b.hub.channelSeqs[channel]
	b.hub.latest[channel] = latestEntry{Data: data, TS: now, Seq: channelSeq}
	b.hub.seq++
	return b.hub.seq, channelSeq
}

// replayBuf returns the channel's replay ring, creating it on first use.
func (b *Broadcaster) replayBuf(channel string) *ReplayBuffer {
	b.hub.mu.Lock()
	defer b.hub.mu.Unlock()
	rb, ok := b.hub.replayBufs[channel]
	if !ok {
		rb = NewReplayBuffer(replayBufCapacity)
		b.hub.replayBufs[channel] = rb
	}
	return rb
}

// recordLatency samples fan-out latency against the payload's own "ts"
// field when the payload carries one.
func (b *Broadcaster) recordLatency(data []byte, now time.Time) {
	if b.hub.Latency == nil {
		return
	}
	var partial struct {
		TS time.Time `json:"ts"`
	}
	if err := json.Unmarshal(data, &partial); err != nil || partial.TS.IsZero() {
		return
	}
	if ms := float64(now.Sub(partial.TS).Microseconds()) / 1000.0; ms >= 0 {
		b.hub.Latency.Record(ms)
	}
}
