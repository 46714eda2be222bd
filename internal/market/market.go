package market

// Bar is one interval of a normalized time series. Timestamps are epoch
// milliseconds UTC. Price fields are nil when the upstream reported no value
// for that interval.
type Bar struct {
	TS     int64
	Open   *float64
	High   *float64
	Low    *float64
	Close  *float64
	Volume int64
}

// Point renders the bar in the wire order the charting frontend consumes:
// [ms, open, close, low, high, volume]. The non-OHLC field order is part of
// the public API contract and must not be changed.
func (b Bar) Point() [6]float64 {
	var open, high, low, clos float64
	if b.Open != nil {
		open = *b.Open
	}
	if b.High != nil {
		high = *b.High
	}
	if b.Low != nil {
		low = *b.Low
	}
	if b.Close != nil {
		clos = *b.Close
	}
	return [6]float64{float64(b.TS), open, clos, low, high, float64(b.Volume)}
}

// Calc source tags identify which data path produced a Quote.
const (
	SourceMeta      = "meta"
	SourceBars      = "bars"
	SourceSecondary = "secondary"
	SourceNone      = "none"
)

// Quote is the normalized point-in-time metric set returned by all sources.
// Nil pointers serialize as JSON null; change and pctChange are nil whenever
// prevClose is missing or zero.
type Quote struct {
	Price        *float64 `json:"price"`
	PrevClose    *float64 `json:"prevClose"`
	Change       *float64 `json:"change"`
	PctChange    *float64 `json:"pctChange"`
	Currency     string   `json:"currency,omitempty"`
	ExchangeName string   `json:"exchangeName,omitempty"`
	AsOf         *int64   `json:"regularMarketTime"`
	CalcSource   string   `json:"calcSource"`
}

// Change computes (price-prev, (price-prev)/prev*100). It reports ok=false
// without attempting division when either input is nil or prev is exactly zero.
func Change(price, prev *float64) (change, pct *float64, ok bool) {
	if price == nil || prev == nil || *prev == 0 {
		return nil, nil, false
	}
	c := *price - *prev
	p := c / *prev * 100.0
	return &c, &p, true
}
