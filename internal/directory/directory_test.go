package directory_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"stockfeed/internal/directory"
)

func openStore(t *testing.T) *directory.Store {
	t.Helper()
	store, err := directory.Open(filepath.Join(t.TempDir(), "directory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func seed(t *testing.T, store *directory.Store) {
	t.Helper()
	n, err := store.UpsertInstruments(context.Background(), []directory.Instrument{
		{Code: "00700", Name: "TENCENT HOLDINGS", Market: "HK", FullCode: "hk00700", Source: "csv"},
		{Code: "09988", Name: "ALIBABA GROUP", Market: "HK", FullCode: "hk09988", Source: "csv"},
		{Code: "00005", Name: "HSBC HOLDINGS", Market: "HK"},
	})
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestUpsertInstruments_SkipsDuplicates(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	seed(t, store)

	n, err := store.UpsertInstruments(context.Background(), []directory.Instrument{
		{Code: "00700", Name: "TENCENT HOLDINGS", Market: "HK"},
		{Code: "00941", Name: "CHINA MOBILE", Market: "HK"},
		{Code: "00700", Name: "TENCENT", Market: "US"}, // same code, other market
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestSearch_ExactCode(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	seed(t, store)

	got, err := store.Search(context.Background(), "HK", "00700", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "TENCENT HOLDINGS", got[0].Name)
	require.Equal(t, "hk00700", got[0].FullCode)
}

func TestSearch_ZeroPadsShortCodes(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	seed(t, store)

	got, err := store.Search(context.Background(), "HK", "700", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "00700", got[0].Code)
}

func TestSearch_NameSubstring(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	seed(t, store)

	got, err := store.Search(context.Background(), "HK", "ALIBABA", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "09988", got[0].Code)
}

func TestSearch_AliasFallback(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	seed(t, store)
	require.NoError(t, store.AddAlias(context.Background(), "penguin", "TENCENT HOLDINGS"))

	got, err := store.Search(context.Background(), "HK", "penguin", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "00700", got[0].Code)
}

func TestSearch_MarketScoped(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	seed(t, store)

	got, err := store.Search(context.Background(), "US", "00700", 10)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSearch_EmptyQuery(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	seed(t, store)

	got, err := store.Search(context.Background(), "HK", "   ", 10)
	require.NoError(t, err)
	require.Nil(t, got)
}
