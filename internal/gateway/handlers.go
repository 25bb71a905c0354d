package gateway

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Router is the subset of an HTTP mux the gateway needs.
type Router interface {
	Handle(pattern string, h http.Handler)
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	sonic.ConfigDefault.NewEncoder(w).Encode(v)
}

// RegisterRoutes mounts the gateway endpoints:
//
//	/ws?symbols=A,B&last_ts=RFC3339   live results
//	/api/latest                        latest result per symbol
//	/api/missed?symbol=S&from=N&to=M   replay by symbol_seq
func RegisterRoutes(r Router, hub *Hub) {
	r.Handle("/ws", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		var since time.Time
		if v := q.Get("last_ts"); v != "" {
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				since = t
			}
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			hub.log.Warn("ws upgrade failed", zap.Error(err))
			return
		}
		conn.EnableWriteCompression(true)
		hub.register(conn, splitSymbols(q.Get("symbols")), since)
	}))

	r.Handle("/api/latest", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		latest := hub.Latest()
		out := make(map[string]rawJSON, len(latest))
		for k, v := range latest {
			out[k] = rawJSON(v)
		}
		writeJSON(w, http.StatusOK, out)
	}))

	r.Handle("/api/missed", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		symbol := q.Get("symbol")
		from, err1 := strconv.ParseInt(q.Get("from"), 10, 64)
		to, err2 := strconv.ParseInt(q.Get("to"), 10, 64)
		if symbol == "" || err1 != nil || err2 != nil || from > to {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "symbol, from and to are required, from <= to"})
			return
		}
		envs := hub.Replay(symbol, from, to)
		out := make([]rawJSON, len(envs))
		for i, e := range envs {
			out[i] = rawJSON(e)
		}
		writeJSON(w, http.StatusOK, out)
	}))
}

// rawJSON embeds pre-encoded JSON.
type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) { return r, nil }

func splitSymbols(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
