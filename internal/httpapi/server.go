// Package httpapi serves the read-only status API behind the dashboard.
package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trader-x-ai/internal/analysis"
	"trader-x-ai/internal/interfaces"
	"trader-x-ai/internal/logger"
	"trader-x-ai/internal/news"
	"trader-x-ai/internal/performance"
	"trader-x-ai/internal/store"
	"trader-x-ai/internal/types"
)

type Route struct {
	Label string `json:"label"`
	Href  string `json:"href"`
}

// Routes are the dashboard's navigation entries, in display order.
var Routes = []Route{
	{Label: "Dashboard", Href: "/dashboard"},
	{Label: "Bot Operando", Href: "/bot-operando"},
	{Label: "Gráfico Análisis", Href: "/grafico-analisis"},
	{Label: "Scalping Lab", Href: "/scalping-lab"},
	{Label: "Educación", Href: "/educacion"},
	{Label: "Noticias", Href: "/noticias"},
	{Label: "Estrategias", Href: "/estrategias"},
	{Label: "Historial", Href: "/historial"},
}

type Params struct {
	Config   *store.Config
	Tracker  *performance.Tracker
	Analyses *analysis.Store
	News     interfaces.HeadlineSource // optional
	Gatherer prometheus.Gatherer       // defaults to prometheus.DefaultGatherer
}

type Status struct {
	Mode       string            `json:"mode"`
	Pairs      []string          `json:"pairs"`
	Strategies []string          `json:"strategies"`
	Metrics    map[string]string `json:"metrics"`
	WinRate    string            `json:"win_rate"`
}

type NewsResponse struct {
	Pair      string           `json:"pair"`
	Sentiment float64          `json:"sentiment"`
	Headlines []types.Headline `json:"headlines"`
}

type handlers struct {
	p Params
}

func NewRouter(p Params) http.Handler {
	if p.Gatherer == nil {
		p.Gatherer = prometheus.DefaultGatherer
	}
	h := &handlers{p: p}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/routes", h.routes)
		r.Get("/status", h.status)
		r.Get("/analysis", h.analysis)
		r.Get("/news/{pair}", h.news)
	})
	r.Handle("/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	return r
}

func NewServer(addr string, p Params) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(p),
		ReadHeaderTimeout: 15 * time.Second,
	}
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) routes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, Routes)
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.p.Config.Strategies))
	for n := range h.p.Config.Strategies {
		names = append(names, n)
	}
	sort.Strings(names)

	writeJSON(w, r, http.StatusOK, Status{
		Mode:       h.p.Config.Mode,
		Pairs:      h.p.Config.Pairs,
		Strategies: names,
		Metrics:    h.p.Tracker.Metrics(),
		WinRate:    h.p.Tracker.WinRate().StringFixed(2),
	})
}

func (h *handlers) analysis(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.p.Analyses.Snapshot())
}

// news takes the pair with "-" in place of "/", e.g. XBT-USD.
func (h *handlers) news(w http.ResponseWriter, r *http.Request) {
	pair := strings.ToUpper(strings.ReplaceAll(chi.URLParam(r, "pair"), "-", "/"))
	if h.p.News == nil {
		writeJSON(w, r, http.StatusOK, NewsResponse{Pair: pair, Headlines: []types.Headline{}})
		return
	}
	hs, err := h.p.News.Headlines(r.Context(), pair)
	if err != nil {
		logger.ErrorWithErr(r.Context(), "Failed to fetch headlines", err, "pair", pair)
		writeJSON(w, r, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	if hs == nil {
		hs = []types.Headline{}
	}
	writeJSON(w, r, http.StatusOK, NewsResponse{Pair: pair, Sentiment: news.Score(hs), Headlines: hs})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.ErrorWithErr(r.Context(), "Failed to encode response", err, "path", r.URL.Path)
	}
}
