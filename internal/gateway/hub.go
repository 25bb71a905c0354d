// Package gateway fans retired results out to WebSocket clients and keeps
// the latest result and a short replay history per symbol.
package gateway

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hegdemanu/FPGA-RSI/internal/model"
)

const replayDepth = 500

type latestEntry struct {
	Data []byte // result JSON
	TS   time.Time
	Seq  int64
}

// Hub manages WebSocket clients. It satisfies model.ResultWriter so the
// engine treats it like any other sink.
type Hub struct {
	log *zap.Logger

	mu         sync.RWMutex
	clients    map[*Client]bool
	latest     map[string]latestEntry
	seq        int64
	symbolSeqs map[string]int64
	replay     map[string]*ReplayBuffer

	// OnClientsChange is called with the client count after a connect or
	// disconnect.
	OnClientsChange func(n int)
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:        log.Named("gateway"),
		clients:    make(map[*Client]bool),
		latest:     make(map[string]latestEntry),
		symbolSeqs: make(map[string]int64),
		replay:     make(map[string]*ReplayBuffer),
	}
}

// WriteResults broadcasts each result on its symbol.
func (h *Hub) WriteResults(_ context.Context, results []model.Result) error {
	for i := range results {
		h.Broadcast(results[i].Symbol, results[i].JSON())
	}
	return nil
}

// Broadcast stamps data with the global and per-symbol sequence numbers,
// records it for replay and sends it to every client watching symbol.
// Slow clients whose queue is full miss the message and can backfill.
func (h *Hub) Broadcast(symbol string, data []byte) {
	now := time.Now().UTC()

	h.mu.Lock()
	h.seq++
	h.symbolSeqs[symbol]++
	seq, symSeq := h.seq, h.symbolSeqs[symbol]
	h.latest[symbol] = latestEntry{Data: data, TS: now, Seq: symSeq}
	rb, ok := h.replay[symbol]
	if !ok {
		rb = NewReplayBuffer(replayDepth)
		h.replay[symbol] = rb
	}
	h.mu.Unlock()

	env := buildEnvelope(symbol, data, now, seq, symSeq, false)
	rb.Push(symSeq, env)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.watches(symbol) {
			continue
		}
		select {
		case c.send <- env:
		default:
		}
	}
}

// buildEnvelope writes {"symbol":..,"data":..,"ts":..,"seq":..,"symbol_seq":..}
// by hand; data is already JSON.
func buildEnvelope(symbol string, data []byte, ts time.Time, seq, symSeq int64, initial bool) []byte {
	buf := make([]byte, 0, len(symbol)+len(data)+128)
	buf = append(buf, `{"symbol":`...)
	buf = strconv.AppendQuote(buf, symbol)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = ts.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"symbol_seq":`...)
	buf = strconv.AppendInt(buf, symSeq, 10)
	if initial {
		buf = append(buf, `,"initial":true`...)
	}
	buf = append(buf, '}')
	return buf
}

// register adds a client connected on conn and starts its pumps.
func (h *Hub) register(conn *websocket.Conn, symbols []string, since time.Time) *Client {
	c := newClient(h, conn, symbols)

	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client connected", zap.Int("clients", n), zap.Strings("symbols", symbols))
	if h.OnClientsChange != nil {
		h.OnClientsChange(n)
	}

	c.sendInitialState(since)
	go c.writePump()
	go c.readPump()
	return c
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client disconnected", zap.Int("clients", n))
	if h.OnClientsChange != nil {
		h.OnClientsChange(n)
	}
}

// Latest returns the latest result JSON per symbol.
func (h *Hub) Latest() map[string][]byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string][]byte, len(h.latest))
	for k, v := range h.latest {
		out[k] = v.Data
	}
	return out
}

// Replay returns buffered envelopes for symbol with from <= symbol_seq <= to.
func (h *Hub) Replay(symbol string, from, to int64) [][]byte {
	h.mu.RLock()
	rb, ok := h.replay[symbol]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return rb.Range(from, to)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.removeClient(c)
	}
	return nil
}
