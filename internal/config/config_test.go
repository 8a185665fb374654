package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankintake/internal/domain"
	"bankintake/internal/refno"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestGeneratedDefaultLoadsBack(t *testing.T) {
	dir := t.TempDir()
	text, err := GenerateDefault()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(Path(dir), []byte(text), 0o644))

	cfg, err := Load(Path(dir))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 3, cfg.RefNo.MaxAttempts)
}

func TestFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intake.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: 0.0.0.0:9090
refno:
  schemes:
    loan:
      prefix: LOAN
      style: dated
cache:
  redis_addr: localhost:6379
`), 0o644))
	t.Setenv("INTAKE_SERVER_JWT_SECRET", "s3cret")
	t.Setenv("INTAKE_ADMIN_RECENT_LIMIT", "25")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr)
	assert.Equal(t, "/api", cfg.Server.BasePath)
	assert.Equal(t, "s3cret", cfg.Server.JWTSecret)
	assert.Equal(t, 25, cfg.Admin.RecentLimit)
	assert.True(t, cfg.Cache.Enabled())
	assert.Equal(t, 300, cfg.Cache.TTLSeconds)

	schemes := cfg.RefNo.FamilySchemes()
	assert.Equal(t, refno.Scheme{Prefix: "LOAN", Style: refno.StyleDated}, schemes[domain.FamilyLoan])
	assert.Equal(t, refno.DefaultSchemes()[domain.FamilyCard], schemes[domain.FamilyCard])
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"driver":       func(c *Config) { c.Store.Driver = "oracle" },
		"postgres dsn": func(c *Config) { c.Store.Driver = "postgres" },
		"mongo uri":    func(c *Config) { c.Store.Driver = "mongo" },
		"base path":    func(c *Config) { c.Server.BasePath = "api" },
		"attempts":     func(c *Config) { c.RefNo.MaxAttempts = 0 },
		"family":       func(c *Config) { c.RefNo.Schemes["boat"] = refno.Scheme{Prefix: "B", Style: refno.StyleEpoch} },
		"style":        func(c *Config) { c.RefNo.Schemes["loan"] = refno.Scheme{Prefix: "LN", Style: "weekly"} },
		"ttl":          func(c *Config) { c.Cache.RedisAddr = "x:1"; c.Cache.TTLSeconds = 0 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}
