package app

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankintake/internal/config"
	"bankintake/internal/domain"
	"bankintake/internal/engine"
	"bankintake/internal/repo"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "nested", "intake.db")
	return cfg
}

func carLoan() map[string]any {
	return map[string]any{
		"loanType": "carLoan", "name": "Meera Iyer", "phone": "9876543210", "email": "meera@example.com",
		"amount": json.Number("450000"), "carBrand": "Maruti", "carModel": "Swift", "carPrice": "650000",
	}
}

func TestBuildSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, sqliteConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	_, isSQL := a.Store.(*repo.SQL)
	assert.True(t, isSQL)

	created, err := a.Engine.Submit(ctx, engine.SubmitOptions{Family: domain.FamilyLoan, Raw: carLoan()})
	require.NoError(t, err)
	got, err := a.Engine.Get(ctx, domain.FamilyLoan, created.ReferenceNumber)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestBuildReopensMigratedDatabase(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t)
	first, err := Build(ctx, cfg, nil)
	require.NoError(t, err)
	created, err := first.Engine.Submit(ctx, engine.SubmitOptions{Family: domain.FamilyLoan, Raw: carLoan()})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Build(ctx, cfg, nil)
	require.NoError(t, err)
	defer second.Close()
	got, err := second.Engine.Get(ctx, domain.FamilyLoan, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ReferenceNumber, got.ReferenceNumber)
}

func TestBuildWrapsStoreWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := sqliteConfig(t)
	cfg.Cache.RedisAddr = mr.Addr()

	a, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	cached, ok := a.Store.(*repo.Cached)
	require.True(t, ok)
	assert.Equal(t, cfg.Cache.TTL(), cached.TTL)
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "oracle"
	_, err := Build(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver")
}

func TestCloseIsNilSafe(t *testing.T) {
	var a *App
	assert.NoError(t, a.Close())
}
