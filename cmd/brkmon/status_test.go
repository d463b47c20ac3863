package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tesouraria/brkmon/billstore"
	"github.com/tesouraria/brkmon/bills"
)

func TestStatusHandler(t *testing.T) {
	var ctx = context.Background()
	var dir = t.TempDir()

	var store, err = billstore.Open(ctx, billstore.Config{
		CacheDir:     filepath.Join(dir, "cache"),
		FallbackPath: filepath.Join(dir, "local", "faturas_brk.db"),
	}, nil, nil)
	require.NoError(t, err)
	defer store.Close(ctx)

	for _, cdc := range []string{"CDC1", "CDC1", "CDC2"} {
		require.True(t, store.Write(ctx, bills.Draft{
			ClientCode:    cdc,
			BillingPeriod: "06/2025",
			Amount:        "R$ 10,00",
			Valid:         true,
		}).OK())
	}

	var rec = httptest.NewRecorder()
	statusHandler(store).ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Equal(t, billstore.ModeFallback.String(), resp.Mode)
	require.Equal(t, filepath.Join(dir, "local", "faturas_brk.db"), resp.Path)
	require.Empty(t, resp.Remote)
	require.Equal(t, 3, resp.Total)
	require.Equal(t, map[string]int{"NORMAL": 2, "DUPLICATA": 1}, resp.ByStatus)
	require.Nil(t, resp.LastSync)
}
