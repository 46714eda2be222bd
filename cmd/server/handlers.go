package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"stockfeed/internal/chart"
	"stockfeed/internal/derive"
	"stockfeed/internal/directory"
	"stockfeed/internal/fetch"
	"stockfeed/internal/logging"
	"stockfeed/internal/market"
	"stockfeed/internal/tencent"
)

// Handler dependencies, narrowed so tests can substitute fakes.
type summarySource interface {
	LatestChange(ctx context.Context, symbol string) (market.Quote, error)
	RollingHighs(ctx context.Context, symbol string) (derive.Highs, error)
}

type chartSource interface {
	Fetch(ctx context.Context, symbol, interval, rng string) (*chart.Payload, error)
}

type secondarySource interface {
	Quote(ctx context.Context, symbol string) (market.Quote, error)
	IntradayBars(ctx context.Context, symbol string) ([]market.Bar, error)
}

type searcher interface {
	Search(ctx context.Context, mkt, q string, limit int) ([]directory.Instrument, error)
}

type app struct {
	deriver   summarySource
	charts    chartSource
	secondary secondarySource
	dir       searcher
}

type searchItem struct {
	Symbol    string `json:"symbol"`
	CNName    string `json:"cn_name"`
	Name      string `json:"name"`
	Market    string `json:"market"`
	Exchange  string `json:"exchange"`
	Type      string `json:"type"`
	StockCode string `json:"stock_code"`
}

type searchResponse struct {
	Items []searchItem `json:"items"`
}

func (a *app) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		http.Error(w, "missing q query param", http.StatusBadRequest)
		return
	}
	rows, err := a.dir.Search(r.Context(), "HK", q, 10)
	if err != nil {
		logging.Component("server").WithError(err).Error("directory search")
		http.Error(w, "directory unavailable", http.StatusInternalServerError)
		return
	}
	resp := searchResponse{Items: make([]searchItem, 0, len(rows))}
	for _, row := range rows {
		resp.Items = append(resp.Items, searchItem{
			Symbol:    chartSymbol(row.Code),
			CNName:    row.Name,
			Name:      row.Name,
			Market:    row.Market,
			Exchange:  row.Market,
			Type:      "Equity",
			StockCode: row.Code,
		})
	}
	writeJSON(w, resp)
}

type klineResponse struct {
	Symbol string       `json:"symbol"`
	TF     string       `json:"tf"`
	Range  string       `json:"range"`
	Source string       `json:"source,omitempty"`
	Bars   [][6]float64 `json:"bars"`
}

func (a *app) handleKline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := strings.TrimSpace(q.Get("symbol"))
	if symbol == "" {
		http.Error(w, "missing symbol query param", http.StatusBadRequest)
		return
	}
	tf := q.Get("tf")
	if tf == "" {
		tf = "1d"
	}
	rng := q.Get("range")
	if rng == "" {
		rng = "3mo"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	var bars []market.Bar
	var err error
	if q.Get("source") == "secondary" {
		bars, err = a.secondary.IntradayBars(ctx, symbol)
		tf, rng = "1m", "1d"
	} else {
		if !chart.ValidInterval(tf) {
			http.Error(w, "unsupported tf", http.StatusBadRequest)
			return
		}
		var p *chart.Payload
		if p, err = a.charts.Fetch(ctx, symbol, tf, rng); err == nil {
			bars, err = p.Bars()
		}
	}
	if err != nil {
		writeUpstreamError(w, err)
		return
	}

	resp := klineResponse{Symbol: symbol, TF: tf, Range: rng, Source: q.Get("source"), Bars: make([][6]float64, 0, len(bars))}
	for _, b := range bars {
		resp.Bars = append(resp.Bars, b.Point())
	}
	writeJSON(w, resp)
}

type summaryResponse struct {
	Symbol string `json:"symbol"`
	market.Quote
	High6m *float64 `json:"high6m"`
	High1y *float64 `json:"high1y"`
}

func (a *app) handleSummary(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		http.Error(w, "missing symbol query param", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 120*time.Second)
	defer cancel()
	log := logging.Component("server")

	resp := summaryResponse{Symbol: symbol}
	quote, err := a.deriver.LatestChange(ctx, symbol)
	if err != nil {
		var all *fetch.AllRoutesError
		if !errors.As(err, &all) {
			writeUpstreamError(w, err)
			return
		}
		// every proxy route is down; the secondary source answers from a
		// different network path entirely
		fallback, ferr := a.secondary.Quote(ctx, symbol)
		if ferr != nil {
			log.WithError(ferr).Warn("secondary fallback failed")
			writeUpstreamError(w, err)
			return
		}
		log.WithField("symbol", symbol).Info("served summary from secondary source")
		resp.Quote = fallback
		writeJSON(w, resp)
		return
	}

	resp.Quote = quote
	highs, err := a.deriver.RollingHighs(ctx, symbol)
	if err != nil {
		log.WithError(err).Warn("rolling highs unavailable")
	} else {
		resp.High6m, resp.High1y = highs.High6m, highs.High1y
	}
	writeJSON(w, resp)
}

func (a *app) handleQuote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		http.Error(w, "missing symbol query param", http.StatusBadRequest)
		return
	}
	quote, err := a.secondary.Quote(r.Context(), symbol)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, struct {
		Symbol string `json:"symbol"`
		market.Quote
	}{Symbol: symbol, Quote: quote})
}

// writeUpstreamError maps the error taxonomy onto the API surface so
// operators can tell an outage from upstream contract drift.
func writeUpstreamError(w http.ResponseWriter, err error) {
	var all *fetch.AllRoutesError
	switch {
	case errors.Is(err, tencent.ErrUnsupportedSymbol):
		http.Error(w, "unsupported symbol", http.StatusBadRequest)
	case errors.As(err, &all):
		http.Error(w, "no data available: upstream unavailable", http.StatusBadGateway)
	case errors.Is(err, chart.ErrMalformedPayload), errors.Is(err, tencent.ErrUnexpectedPayload):
		http.Error(w, "no data available: unexpected upstream format", http.StatusInternalServerError)
	default:
		http.Error(w, "no data available", http.StatusBadGateway)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// chartSymbol converts a zero-padded directory code into the primary
// source's symbol form: 01810 -> 1810.HK.
func chartSymbol(code string) string {
	trimmed := strings.TrimLeft(code, "0")
	if trimmed == "" {
		trimmed = "0"
	}
	return trimmed + ".HK"
}
