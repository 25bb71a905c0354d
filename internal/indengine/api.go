package indengine

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/hegdemanu/FPGA-RSI/internal/circuit"
	"github.com/hegdemanu/FPGA-RSI/internal/gateway"
)

const controlTimeout = 2 * time.Second

type stateResponse struct {
	Symbol   string           `json:"symbol"`
	Ticks    uint64           `json:"ticks"`
	Snapshot circuit.Snapshot `json:"snapshot"`
}

// RegisterRoutes mounts the engine endpoints:
//
//	GET  /api/params             circuit parameters
//	GET  /api/symbols            symbols with a circuit
//	GET  /api/state/{symbol}     register snapshot of one circuit
//	POST /api/reset?symbol=S     assert reset (all symbols when S is empty)
//	POST /api/flush?symbol=S     assert the period flush
func (s *Service) RegisterRoutes(r gateway.Router) {
	r.Handle("/api/params", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.engine.Params())
	}))

	r.Handle("/api/symbols", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var syms []string
		if !s.onLoop(w, req, func(e *Engine) { syms = e.Symbols() }) {
			return
		}
		writeJSON(w, http.StatusOK, syms)
	}))

	r.Handle("/api/state/", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		symbol := strings.TrimPrefix(req.URL.Path, "/api/state/")
		if symbol == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "symbol required"})
			return
		}
		var resp stateResponse
		var found bool
		if !s.onLoop(w, req, func(e *Engine) {
			resp.Snapshot, found = e.Snapshot(symbol)
			resp.Ticks = e.Ticks(symbol)
		}) {
			return
		}
		if !found {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown symbol " + symbol})
			return
		}
		resp.Symbol = symbol
		writeJSON(w, http.StatusOK, resp)
	}))

	r.Handle("/api/reset", s.clearHandler("reset", (*Engine).Reset))
	r.Handle("/api/flush", s.clearHandler("flush", (*Engine).Flush))
}

func (s *Service) clearHandler(reason string, clear func(*Engine, string) bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST only"})
			return
		}
		symbol := req.URL.Query().Get("symbol")
		var cleared []string
		if !s.onLoop(w, req, func(e *Engine) {
			targets := []string{symbol}
			if symbol == "" {
				targets = e.Symbols()
			}
			for _, sym := range targets {
				if clear(e, sym) {
					s.edges.Forget(sym)
					cleared = append(cleared, sym)
				}
			}
		}) {
			return
		}
		if symbol != "" && len(cleared) == 0 {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown symbol " + symbol})
			return
		}
		s.log.Info("circuits cleared over http", zap.String("reason", reason), zap.Strings("symbols", cleared))
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", reason: cleared})
	})
}

// onLoop runs fn on the process loop, answering 503 when the loop does
// not pick it up in time.
func (s *Service) onLoop(w http.ResponseWriter, req *http.Request, fn func(*Engine)) bool {
	ctx, cancel := context.WithTimeout(req.Context(), controlTimeout)
	defer cancel()
	if err := s.do(ctx, fn); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "engine busy: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	gateway.SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	sonic.ConfigDefault.NewEncoder(w).Encode(v)
}
