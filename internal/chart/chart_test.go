package chart_test

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"stockfeed/internal/chart"
)

type fakeGetter struct {
	payload string
	lastURL string
	params  url.Values
	err     error
}

func (f *fakeGetter) JSON(_ context.Context, rawurl string, params url.Values) ([]byte, error) {
	f.lastURL = rawurl
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.payload), nil
}

func TestFetch_BuildsRequest(t *testing.T) {
	t.Parallel()

	g := &fakeGetter{payload: `{"chart":{"result":[{"timestamp":[],"indicators":{"quote":[{}]}}]}}`}
	c := chart.New(g, "")

	_, err := c.Fetch(context.Background(), "0700.HK", "1d", "10d")
	require.NoError(t, err)
	require.Equal(t, chart.DefaultBaseURL+"/0700.HK", g.lastURL)
	require.Equal(t, url.Values{"interval": {"1d"}, "range": {"10d"}}, g.params)
}

func TestFetch_RejectsUnknownInterval(t *testing.T) {
	t.Parallel()

	c := chart.New(&fakeGetter{}, "")
	_, err := c.Fetch(context.Background(), "0700.HK", "7m", "10d")
	require.Error(t, err)
}

func payloadFrom(t *testing.T, raw string) *chart.Payload {
	t.Helper()
	var p chart.Payload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return &p
}

func TestBars_DropsIncompleteAndDefaultsVolume(t *testing.T) {
	t.Parallel()

	p := payloadFrom(t, `{"chart":{"result":[{
		"timestamp":[100,200,300,400],
		"indicators":{"quote":[{
			"open":[1.0,null,3.0,4.0],
			"high":[1.5,2.5,3.5,4.5],
			"low":[0.5,1.5,2.5,3.5],
			"close":[1.2,2.2,3.2,null],
			"volume":[10,20,null,40]
		}]}}]}}`)

	bars, err := p.Bars()
	require.NoError(t, err)
	// bar 2 has a null open, bar 4 a null close
	require.Len(t, bars, 2)

	require.EqualValues(t, 100_000, bars[0].TS)
	require.Equal(t, 1.0, *bars[0].Open)
	require.EqualValues(t, 10, bars[0].Volume)

	require.EqualValues(t, 300_000, bars[1].TS)
	require.Equal(t, 3.2, *bars[1].Close)
	require.EqualValues(t, 0, bars[1].Volume, "missing volume defaults to zero")
}

func TestBars_PreservesUpstreamOrder(t *testing.T) {
	t.Parallel()

	p := payloadFrom(t, `{"chart":{"result":[{
		"timestamp":[300,100,200],
		"indicators":{"quote":[{
			"open":[1,1,1],"high":[1,1,1],"low":[1,1,1],"close":[1,1,1],"volume":[1,1,1]
		}]}}]}}`)

	bars, err := p.Bars()
	require.NoError(t, err)
	require.EqualValues(t, 300_000, bars[0].TS, "bars must not be re-sorted")
}

func TestBars_MalformedPayload(t *testing.T) {
	t.Parallel()

	for name, raw := range map[string]string{
		"empty result":   `{"chart":{"result":[]}}`,
		"missing result": `{"chart":{}}`,
		"missing quote":  `{"chart":{"result":[{"timestamp":[1],"indicators":{"quote":[]}}]}}`,
	} {
		p := payloadFrom(t, raw)
		_, err := p.Bars()
		require.ErrorIs(t, err, chart.ErrMalformedPayload, name)
	}
}

func TestMetaBlock(t *testing.T) {
	t.Parallel()

	p := payloadFrom(t, `{"chart":{"result":[{
		"meta":{"regularMarketPrice":101.5,"previousClose":100.0,"currency":"HKD","exchangeName":"HKG","regularMarketTime":1718000000},
		"timestamp":[],"indicators":{"quote":[{}]}}]}}`)

	m := p.MetaBlock()
	require.NotNil(t, m)
	require.Equal(t, 101.5, *m.RegularMarketPrice)
	require.Equal(t, 100.0, *m.PreviousClose)
	require.Equal(t, "HKD", m.Currency)

	require.Nil(t, payloadFrom(t, `{"chart":{"result":[]}}`).MetaBlock())
}
