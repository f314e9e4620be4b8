package opsrv

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yanun0323/logs"

	"main/internal/engine"
	"main/internal/schema"
)

// Server is the operator surface: health, status, and metrics. It reads
// engine state but never mutates it.
type Server struct {
	engine   *engine.Engine
	registry *schema.Registry
	http     *http.Server
}

// NewServer builds the HTTP listener for the given engine.
func NewServer(addr string, eng *engine.Engine, reg *schema.Registry) *Server {
	s := &Server{engine: eng, registry: reg}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(NewCollector(eng.Metrics()))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/positions", s.handlePositions)
	r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves in a background goroutine until Shutdown.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Errorf("operator server: %+v", err)
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.Status()
	if st.Halted {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "halted",
			"error":  st.FatalErr,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	SessionID        string `json:"sessionId"`
	Replay           bool   `json:"replay"`
	Halted           bool   `json:"halted"`
	FatalErr         string `json:"fatalErr,omitempty"`
	LastSeq          uint64 `json:"lastSeq"`
	LastEventTs      int64  `json:"lastEventTs"`
	QueueLen         int    `json:"queueLen"`
	OpenOrders       int    `json:"openOrders"`
	OpenReservations int    `json:"openReservations"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		SessionID:        st.SessionID,
		Replay:           st.Replay,
		Halted:           st.Halted,
		FatalErr:         st.FatalErr,
		LastSeq:          st.LastSeq,
		LastEventTs:      st.LastEventTs,
		QueueLen:         st.QueueLen,
		OpenOrders:       st.OpenOrders,
		OpenReservations: st.OpenReservations,
	})
}

type positionResponse struct {
	Symbol      string `json:"symbol"`
	NetQty      int64  `json:"netQty"`
	AvgCost     int64  `json:"avgCost"`
	RealizedPnL int64  `json:"realizedPnl"`
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.Status()
	out := make([]positionResponse, 0, len(st.Positions))
	for _, p := range st.Positions {
		name := ""
		if sym, ok := s.registry.Symbol(schema.SymbolID(p.SymbolID)); ok {
			name = sym.Name
		}
		out = append(out, positionResponse{
			Symbol:      name,
			NetQty:      int64(p.NetQty),
			AvgCost:     int64(p.AvgCost()),
			RealizedPnL: int64(p.RealizedPnL),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := sonic.ConfigFastest.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}
