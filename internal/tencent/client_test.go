package tencent_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"stockfeed/internal/market"
	"stockfeed/internal/tencent"
)

// quoteLine builds a tilde-delimited quote assignment with the given fields
// poked into an otherwise zero-filled 35-slot line.
func quoteLine(code string, overrides map[int]string) string {
	parts := make([]string, 35)
	for i := range parts {
		parts[i] = "0"
	}
	for i, v := range overrides {
		parts[i] = v
	}
	return "v_" + code + `="` + strings.Join(parts, "~") + `";`
}

func respondWith(t *testing.T, httpClient *MockHTTPClient, body string) {
	t.Helper()
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "Mozilla/5.0", req.Header.Get("User-Agent"))
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader(body)),
			}, nil
		}).
		Times(1)
}

func TestQuote(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	respondWith(t, httpClient, quoteLine("hk00700", map[int]string{
		1:  "TENCENT",
		3:  "320.400",
		4:  "321.800",
		30: "2025/08/29 16:08:12",
		33: "HKD",
	}))

	client := tencent.New(tencent.WithHTTPClient(httpClient))
	q, err := client.Quote(context.Background(), "700.HK")
	require.NoError(t, err)

	require.Equal(t, market.SourceSecondary, q.CalcSource)
	require.Equal(t, 320.4, *q.Price)
	require.Equal(t, 321.8, *q.PrevClose)
	require.InDelta(t, -1.4, *q.Change, 1e-9)
	require.InDelta(t, -0.43505, *q.PctChange, 1e-4)
	require.Equal(t, "HKD", q.Currency)

	loc, err := time.LoadLocation("Asia/Hong_Kong")
	require.NoError(t, err)
	want := time.Date(2025, 8, 29, 16, 8, 12, 0, loc).UnixMilli()
	require.Equal(t, want, *q.AsOf)
}

func TestQuote_RequestTargetsCode(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "http://quotes.test/q=hk00700", req.URL.String())
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader(quoteLine("hk00700", nil))),
			}, nil
		}).
		Times(1)

	client := tencent.New(
		tencent.WithHTTPClient(httpClient),
		tencent.WithQuoteURL("http://quotes.test/q="),
	)
	_, err := client.Quote(context.Background(), "700.HK")
	require.NoError(t, err)
}

func TestQuote_CompactTimestampAndMissingCurrency(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	respondWith(t, httpClient, quoteLine("hk00700", map[int]string{
		3:  "100.0",
		4:  "100.0",
		30: "20250829160812",
	}))

	client := tencent.New(tencent.WithHTTPClient(httpClient))
	q, err := client.Quote(context.Background(), "700.HK")
	require.NoError(t, err)

	require.Empty(t, q.Currency)
	loc, err := time.LoadLocation("Asia/Hong_Kong")
	require.NoError(t, err)
	want := time.Date(2025, 8, 29, 16, 8, 12, 0, loc).UnixMilli()
	require.Equal(t, want, *q.AsOf)
}

func TestQuote_UnsupportedSymbolSkipsNetwork(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)

	client := tencent.New(tencent.WithHTTPClient(httpClient))
	_, err := client.Quote(context.Background(), "AAPL")
	require.ErrorIs(t, err, tencent.ErrUnsupportedSymbol)
}

func TestQuote_NoAssignmentInBody(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	respondWith(t, httpClient, "pv_none_match")

	client := tencent.New(tencent.WithHTTPClient(httpClient))
	_, err := client.Quote(context.Background(), "700.HK")
	require.ErrorIs(t, err, tencent.ErrUnexpectedPayload)
}

func TestQuote_UpstreamStatus(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Return(&http.Response{
			StatusCode: http.StatusForbidden,
			Body:       io.NopCloser(strings.NewReader("")),
		}, nil).
		Times(1)

	client := tencent.New(tencent.WithHTTPClient(httpClient))
	_, err := client.Quote(context.Background(), "700.HK")
	require.ErrorContains(t, err, "403")
}

func minuteBody(date string, lines ...string) string {
	body := `{"data":{"hk00700":{"data":{"date":"` + date + `","data":[`
	for i, line := range lines {
		if i > 0 {
			body += ","
		}
		body += `"` + line + `"`
	}
	return body + `]}}}}`
}

func TestIntradayBars(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	respondWith(t, httpClient, minuteBody("20250829",
		"0930 100.0 1000",
		"0931 100.5 1500",
		"0932 101.0 1200", // cumulative went backwards: clamp to zero
	))

	client := tencent.New(tencent.WithHTTPClient(httpClient))
	bars, err := client.IntradayBars(context.Background(), "700.HK")
	require.NoError(t, err)
	require.Len(t, bars, 3)

	// the first minute has no predecessor to difference against
	require.EqualValues(t, 0, bars[0].Volume)
	require.EqualValues(t, 500, bars[1].Volume)
	require.EqualValues(t, 0, bars[2].Volume)

	// one price point per minute: flat bars
	for _, b := range bars {
		require.Equal(t, *b.Open, *b.Close)
		require.Equal(t, *b.High, *b.Low)
	}
	require.Equal(t, 100.5, *bars[1].Close)

	loc, err := time.LoadLocation("Asia/Hong_Kong")
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 8, 29, 9, 30, 0, 0, loc).UnixMilli(), bars[0].TS)
	require.Equal(t, time.Date(2025, 8, 29, 9, 32, 0, 0, loc).UnixMilli(), bars[2].TS)
}

func TestIntradayBars_SkipsMalformedLines(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	respondWith(t, httpClient, minuteBody("20250829",
		"0930 100.0 1000",
		"ncov",
		"93 100.1 1100",
		"0931 nan 1200",
		"0932 100.2 1300",
	))

	client := tencent.New(tencent.WithHTTPClient(httpClient))
	bars, err := client.IntradayBars(context.Background(), "700.HK")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	require.Equal(t, 100.0, *bars[0].Close)
	require.Equal(t, 100.2, *bars[1].Close)
}

func TestIntradayBars_BadSessionDate(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	respondWith(t, httpClient, minuteBody("2025", "0930 100.0 1000"))

	client := tencent.New(tencent.WithHTTPClient(httpClient))
	bars, err := client.IntradayBars(context.Background(), "700.HK")
	require.NoError(t, err)
	require.Nil(t, bars)
}

func TestIntradayBars_UnexpectedPayload(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	respondWith(t, httpClient, "<html>blocked</html>")

	client := tencent.New(tencent.WithHTTPClient(httpClient))
	_, err := client.IntradayBars(context.Background(), "700.HK")
	require.ErrorIs(t, err, tencent.ErrUnexpectedPayload)
}
