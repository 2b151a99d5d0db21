//go:build postgres_integration

package store

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"linecare/internal/model"
)

func TestPostgresConnectivityAndMigrate(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" { t.Skip("DATABASE_URL not set; skipping integration test") }
	p, err := NewPostgres(dsn)
	require.NoError(t, err)
	require.NoError(t, p.Ping(t.Context()))
	require.NoError(t, p.Migrate(zaptest.NewLogger(t)))
	// second run is a no-op
	require.NoError(t, p.Migrate(nil))

	in, err := p.CreateIntegration(t.Context(), model.Integration{CompanyID: "c_it", Provider: "Generic", Name: "it", Enabled: true, Config: map[string]any{"api_url": "http://x"}})
	require.NoError(t, err)
	require.NoError(t, p.MarkSyncError(t.Context(), in.ID, "boom", time.Now()))
	got, err := p.GetIntegration(t.Context(), in.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusError, got.LastSyncStatus)
	require.Equal(t, "http://x", got.ConfigString("api_url"))

	_, err = p.AppendIntegrationLog(t.Context(), model.IntegrationLog{IntegrationID: in.ID, Action: model.ActionSyncInventory, Status: model.StatusError, StartedAt: time.Now(), FinishedAt: time.Now()})
	require.NoError(t, err)
	logs, err := p.ListIntegrationLogs(t.Context(), in.ID, LogFilter{Limit: 5})
	require.NoError(t, err)
	require.Len(t, logs, 1)
}
