package indengine

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hegdemanu/FPGA-RSI/config"
	"github.com/hegdemanu/FPGA-RSI/internal/metrics"
	"github.com/hegdemanu/FPGA-RSI/internal/model"
	"github.com/hegdemanu/FPGA-RSI/internal/store/sqlite"
)

type recordingSink struct {
	mu      sync.Mutex
	results []model.Result
	closed  bool
}

func (r *recordingSink) WriteResults(_ context.Context, results []model.Result) error {
	r.mu.Lock()
	r.results = append(r.results, results...)
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) snapshot() ([]model.Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Result(nil), r.results...), r.closed
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "rsi.db")
	cfg.Symbols = []string{"BTCUSD"}
	return cfg
}

func newTestService(t *testing.T, cfg *config.Config) (*Service, *metrics.Metrics, *recordingSink) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	svc, err := New(cfg, zap.NewNop(), m, metrics.NewHealthStatus())
	require.NoError(t, err)
	sink := &recordingSink{}
	svc.AddSink("test", sink)
	return svc, m, sink
}

// start runs svc and returns a function that stops it and waits.
func start(t *testing.T, svc *Service) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(10 * time.Second):
				t.Fatal("service did not stop")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}

func submitRising(t *testing.T, svc *Service, symbol string, n int) {
	t.Helper()
	base := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		require.NoError(t, svc.Submit(context.Background(), model.PriceSample{
			Symbol: symbol,
			Price:  100 + uint64(i),
			TS:     base.Add(time.Duration(i) * time.Second),
		}))
	}
}

func TestService_ProcessesAndPersists(t *testing.T) {
	cfg := testConfig(t)
	svc, m, sink := newTestService(t, cfg)
	stop := start(t, svc)

	submitRising(t, svc, "BTCUSD", 14)
	require.NoError(t, svc.Submit(context.Background(), model.PriceSample{Symbol: "ETHUSD", Price: 1}))
	require.NoError(t, svc.Submit(context.Background(), model.PriceSample{Price: 1}))
	stop()

	got, closed := sink.snapshot()
	require.Len(t, got, 14)
	assert.True(t, closed)
	for i, r := range got {
		assert.Equal(t, "BTCUSD", r.Symbol)
		assert.Equal(t, uint64(i+1), r.Seq)
	}
	assert.True(t, got[13].Sell)
	assert.Equal(t, uint64(100), got[13].RSI)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedSamples.WithLabelValues("unknown_symbol")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedSamples.WithLabelValues("no_symbol")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SignalsTotal.WithLabelValues("BTCUSD", "SELL")))

	r, err := sqlite.NewReader(cfg.SQLite.Path, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	stored, err := r.ReadResults(context.Background(), "BTCUSD", 100)
	require.NoError(t, err)
	require.Len(t, stored, 14)
	assert.Equal(t, uint64(100), stored[13].RSI)

	prices, err := r.ReadPrices(context.Background(), "BTCUSD", time.Time{})
	require.NoError(t, err)
	require.Len(t, prices, 14)
	assert.Equal(t, uint64(113), prices[13].Price)
}

func TestService_StampsMissingTimestamp(t *testing.T) {
	cfg := testConfig(t)
	cfg.SQLite.Path = ""
	svc, _, sink := newTestService(t, cfg)
	stop := start(t, svc)

	before := time.Now()
	require.NoError(t, svc.Submit(context.Background(), model.PriceSample{Symbol: "BTCUSD", Price: 5}))
	stop()

	got, _ := sink.snapshot()
	require.Len(t, got, 1)
	assert.False(t, got[0].TS.Before(before))
}

func TestService_WarmupRestoresWindow(t *testing.T) {
	cfg := testConfig(t)
	first, _, _ := newTestService(t, cfg)
	stop := start(t, first)
	submitRising(t, first, "BTCUSD", 20)
	stop()

	second, m, sink := newTestService(t, cfg)
	require.NoError(t, second.warmup(context.Background()))
	assert.Zero(t, testutil.ToFloat64(m.SamplesTotal.WithLabelValues("BTCUSD")))
	assert.Zero(t, testutil.ToFloat64(m.TicksTotal))

	snap, ok := second.Engine().Snapshot("BTCUSD")
	require.True(t, ok)
	assert.True(t, snap.Ready)
	assert.Equal(t, 14, snap.Count)
	assert.Equal(t, uint64(119), snap.Current)

	// warm-up results are not published and a still-overbought symbol does
	// not alert again
	got, _ := sink.snapshot()
	assert.Empty(t, got)
	r, err := second.engine.Process(model.PriceSample{Symbol: "BTCUSD", Price: 120, TS: time.Now()})
	require.NoError(t, err)
	assert.True(t, r.Sell)
	assert.Empty(t, second.edges.Observe(r))
}

func TestService_FullResultStoreDoesNotBlockLoop(t *testing.T) {
	cfg := testConfig(t)
	svc, m, _ := newTestService(t, cfg)
	t.Cleanup(svc.closeAll)
	// a result store that has fallen behind: one slot, nothing draining it
	svc.stored = make(chan model.Result, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			svc.handle(model.PriceSample{Symbol: "BTCUSD", Price: 100 + uint64(i), TS: time.Now()})
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process loop blocked on the result store")
	}

	assert.Len(t, svc.pendingResults, 5)
	assert.Len(t, svc.stored, 1)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.DroppedSamples.WithLabelValues("sink_full")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.SamplesTotal.WithLabelValues("BTCUSD")))
}

func TestService_WarmupDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.SQLite.Warmup = false
	svc, _, _ := newTestService(t, cfg)
	require.NoError(t, svc.warmup(context.Background()))
	assert.Empty(t, svc.Engine().Symbols())
}

type muxRouter struct{ *http.ServeMux }

func (m muxRouter) Handle(p string, h http.Handler) { m.ServeMux.Handle(p, h) }

func TestService_HTTPControl(t *testing.T) {
	cfg := testConfig(t)
	cfg.SQLite.Path = ""
	svc, _, sink := newTestService(t, cfg)
	mux := http.NewServeMux()
	svc.RegisterRoutes(muxRouter{mux})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	start(t, svc)
	submitRising(t, svc, "BTCUSD", 14)
	require.Eventually(t, func() bool {
		got, _ := sink.snapshot()
		return len(got) == 14
	}, 5*time.Second, 10*time.Millisecond)

	type state struct {
		Symbol   string `json:"symbol"`
		Ticks    uint64 `json:"ticks"`
		Snapshot struct {
			Count int  `json:"count"`
			Ready bool `json:"ready"`
		} `json:"snapshot"`
	}
	getState := func(symbol string) (int, state) {
		resp, err := http.Get(srv.URL + "/api/state/" + symbol)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		var s state
		if resp.StatusCode == http.StatusOK {
			require.NoError(t, sonic.Unmarshal(body, &s))
		}
		return resp.StatusCode, s
	}

	code, s := getState("BTCUSD")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "BTCUSD", s.Symbol)
	assert.Equal(t, 14, s.Snapshot.Count)
	assert.True(t, s.Snapshot.Ready)
	assert.Equal(t, uint64(13*5+67), s.Ticks)

	code, _ = getState("NOPE")
	assert.Equal(t, http.StatusNotFound, code)

	resp, err := http.Get(srv.URL + "/api/reset?symbol=BTCUSD")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/reset?symbol=BTCUSD", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, s = getState("BTCUSD")
	assert.Zero(t, s.Snapshot.Count)
	assert.False(t, s.Snapshot.Ready)

	resp, err = http.Post(srv.URL+"/api/flush?symbol=NOPE", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/symbols")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.JSONEq(t, `["BTCUSD"]`, string(body))

	resp, err = http.Get(srv.URL + "/api/params")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `"period":14`)
}

func TestService_ControlTimesOutWithoutLoop(t *testing.T) {
	cfg := testConfig(t)
	cfg.SQLite.Path = ""
	svc, _, _ := newTestService(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := svc.do(ctx, func(*Engine) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestService_ConsumesWebsocketFeed(t *testing.T) {
	up := websocket.Upgrader{}
	feedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 14; i++ {
			s := model.PriceSample{Symbol: "BTCUSD", Price: 100 + uint64(i), TS: time.Unix(int64(i), 0)}
			if err := conn.WriteMessage(websocket.TextMessage, s.JSON()); err != nil {
				return
			}
		}
		// hold the connection until the client goes away
		conn.ReadMessage()
	}))
	defer feedSrv.Close()

	cfg := testConfig(t)
	cfg.SQLite.Path = ""
	cfg.Feed.URL = "ws" + strings.TrimPrefix(feedSrv.URL, "http")
	svc, _, sink := newTestService(t, cfg)
	stop := start(t, svc)

	require.Eventually(t, func() bool {
		got, _ := sink.snapshot()
		return len(got) == 14
	}, 5*time.Second, 10*time.Millisecond)
	stop()

	got, _ := sink.snapshot()
	assert.Equal(t, uint64(100), got[13].RSI)
}

func TestNew_RejectsBadSession(t *testing.T) {
	cfg := testConfig(t)
	cfg.SQLite.Path = ""
	cfg.Clock.Session.Enabled = true
	cfg.Clock.Session.Open = "16:00"
	cfg.Clock.Session.Close = "09:00"
	_, err := New(cfg, zap.NewNop(), metrics.NewMetrics(prometheus.NewRegistry()), metrics.NewHealthStatus())
	assert.Error(t, err)
}

func TestService_ReplaysRecordedPrices(t *testing.T) {
	cfg := testConfig(t)
	first, _, _ := newTestService(t, cfg)
	stop := start(t, first)
	submitRising(t, first, "BTCUSD", 14)
	stop()

	cfg.Replay.Enabled = true
	second, _, sink := newTestService(t, cfg)
	start(t, second)

	require.Eventually(t, func() bool {
		got, _ := sink.snapshot()
		return len(got) == 14
	}, 5*time.Second, 10*time.Millisecond)
	got, _ := sink.snapshot()
	assert.Equal(t, uint64(1), got[0].Seq, "replay starts cold")
	assert.Equal(t, uint64(100), got[13].RSI)
}

func TestNew_ReplayNeedsSQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.SQLite.Path = ""
	cfg.Replay.Enabled = true
	_, err := New(cfg, zap.NewNop(), metrics.NewMetrics(prometheus.NewRegistry()), metrics.NewHealthStatus())
	assert.Error(t, err)
}
