package derive

import (
	"context"
	"time"

	"stockfeed/internal/chart"
	"stockfeed/internal/market"
)

const (
	changeRange = "5d"
	highRange   = "1y"
)

// ChartSource is the primary data dependency of the deriver.
type ChartSource interface {
	Fetch(ctx context.Context, symbol, interval, rng string) (*chart.Payload, error)
}

// Deriver turns fetched chart payloads into quote metrics and rolling highs.
type Deriver struct {
	charts ChartSource
	now    func() time.Time
}

func New(c ChartSource) *Deriver {
	return &Deriver{charts: c, now: time.Now}
}

// LatestChange computes price, previous close and the change pair for symbol
// with a fixed source precedence:
//
//  1. the payload's meta block, when it carries a price and a non-zero
//     previous close (calcSource "meta");
//  2. the two most recent non-null bar closes (calcSource "bars");
//  3. whatever partial values meta offered, with nil change (calcSource
//     "none").
//
// The bars path keeps working during a market close when the meta block goes
// stale or incomplete.
func (d *Deriver) LatestChange(ctx context.Context, symbol string) (market.Quote, error) {
	p, err := d.charts.Fetch(ctx, symbol, "1d", changeRange)
	if err != nil {
		return market.Quote{}, err
	}

	q := market.Quote{CalcSource: market.SourceNone}
	if meta := p.MetaBlock(); meta != nil {
		q.Price = meta.RegularMarketPrice
		q.PrevClose = meta.PreviousClose
		q.Currency = meta.Currency
		q.ExchangeName = meta.ExchangeName
		if meta.RegularMarketTime != nil {
			ms := *meta.RegularMarketTime * 1000
			q.AsOf = &ms
		}
	}

	if change, pct, ok := market.Change(q.Price, q.PrevClose); ok {
		q.Change, q.PctChange = change, pct
		q.CalcSource = market.SourceMeta
		return q, nil
	}

	bars, err := p.Bars()
	if err != nil {
		return market.Quote{}, err
	}
	closes := make([]float64, 0, len(bars))
	for _, b := range bars {
		if b.Close != nil {
			closes = append(closes, *b.Close)
		}
	}
	if len(closes) >= 2 {
		last := closes[len(closes)-1]
		prev := closes[len(closes)-2]
		q.Price, q.PrevClose = &last, &prev
		q.Change, q.PctChange, _ = market.Change(&last, &prev)
		q.CalcSource = market.SourceBars
		return q, nil
	}
	return q, nil
}

// Highs carries trailing-window maxima; a window with no bars is null.
type Highs struct {
	High6m *float64 `json:"high6m"`
	High1y *float64 `json:"high1y"`
}

// RollingHighs fetches a year of daily bars and computes the maximum high over
// the trailing 183 and 365 days. Windows are anchored at wall-clock fetch
// time, not the series' own last timestamp.
func (d *Deriver) RollingHighs(ctx context.Context, symbol string) (Highs, error) {
	p, err := d.charts.Fetch(ctx, symbol, "1d", highRange)
	if err != nil {
		return Highs{}, err
	}
	bars, err := p.Bars()
	if err != nil {
		return Highs{}, err
	}
	now := d.now().UnixMilli()
	const day = int64(24 * time.Hour / time.Millisecond)
	return Highs{
		High6m: maxHighSince(bars, now-183*day),
		High1y: maxHighSince(bars, now-365*day),
	}, nil
}

func maxHighSince(bars []market.Bar, cutoff int64) *float64 {
	var best *float64
	for _, b := range bars {
		if b.TS < cutoff || b.High == nil {
			continue
		}
		if best == nil || *b.High > *best {
			v := *b.High
			best = &v
		}
	}
	return best
}
