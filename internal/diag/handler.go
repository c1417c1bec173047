package diag

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/23skdu/mallinfo/internal/mallinfo"
	"github.com/23skdu/mallinfo/internal/metrics"
)

// ArenaList is the body of the arena listing route.
type ArenaList struct {
	NArenas int                     `json:"narenas"`
	NBins   int                     `json:"nbins"`
	Arenas  []mallinfo.ArenaSummary `json:"arenas"`
}

// Handler serves allocator stats as JSON under /debug/mallinfo.
//
// Out-of-range arena or bin indices answer 200 with a zero snapshot. Only
// path segments that are not integers are rejected.
type Handler struct {
	agg    *mallinfo.Aggregator
	logger zerolog.Logger
	mux    *http.ServeMux
}

// NewHandler creates the diagnostics handler.
func NewHandler(agg *mallinfo.Aggregator, logger zerolog.Logger) *Handler {
	h := &Handler{
		agg:    agg,
		logger: logger.With().Str("component", "diag").Logger(),
		mux:    http.NewServeMux(),
	}
	h.mux.HandleFunc("GET /debug/mallinfo", h.global)
	h.mux.HandleFunc("GET /debug/mallinfo/arenas", h.arenas)
	h.mux.HandleFunc("GET /debug/mallinfo/arenas/{arena}", h.arena)
	h.mux.HandleFunc("GET /debug/mallinfo/arenas/{arena}/bins/{bin}", h.bin)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) global(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, "global", h.agg.GlobalSummary())
}

func (h *Handler) arenas(w http.ResponseWriter, _ *http.Request) {
	n := h.agg.ArenaCount()
	h.writeJSON(w, "arenas", ArenaList{
		NArenas: n,
		NBins:   h.agg.BinCount(),
		Arenas:  lo.Map(lo.Range(n), func(i int, _ int) mallinfo.ArenaSummary { return h.agg.ArenaSummary(i) }),
	})
}

func (h *Handler) arena(w http.ResponseWriter, r *http.Request) {
	i, ok := h.index(w, r, "arena", "arena")
	if !ok {
		return
	}
	h.writeJSON(w, "arena", h.agg.ArenaSummary(i))
}

func (h *Handler) bin(w http.ResponseWriter, r *http.Request) {
	i, ok := h.index(w, r, "bin", "arena")
	if !ok {
		return
	}
	b, ok := h.index(w, r, "bin", "bin")
	if !ok {
		return
	}
	h.writeJSON(w, "bin", h.agg.BinSummary(i, b))
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request, route, name string) (int, bool) {
	raw := r.PathValue(name)
	v, err := strconv.Atoi(raw)
	if err != nil {
		metrics.DiagRequestsTotal.WithLabelValues(route, strconv.Itoa(http.StatusBadRequest)).Inc()
		http.Error(w, "invalid "+name+" index: "+strconv.Quote(raw), http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, route string, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn().Err(err).Str("route", route).Msg("Failed to encode stats response")
		metrics.DiagRequestsTotal.WithLabelValues(route, strconv.Itoa(http.StatusInternalServerError)).Inc()
		return
	}
	metrics.DiagRequestsTotal.WithLabelValues(route, strconv.Itoa(http.StatusOK)).Inc()
}
