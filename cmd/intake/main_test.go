package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankintake/internal/config"
	"bankintake/internal/db"
	"bankintake/internal/domain"
	"bankintake/internal/engine"
	"bankintake/internal/engine/auth"
	"bankintake/internal/migrate"
	"bankintake/internal/repo"
	"bankintake/internal/server"
	intakesdk "bankintake/sdk/go"
)

type workspace struct {
	dir string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	return workspace{dir: t.TempDir()}
}

func (w workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	base := []string{"--config", filepath.Join(w.dir, "intake.yml"), "--sqlite-path", filepath.Join(w.dir, "intake.db")}
	root.SetArgs(append(base, args...))
	err := root.Execute()
	return out.String(), err
}

func (w workspace) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := w.run(t, args...)
	require.NoError(t, err, out)
	return out
}

func writeBody(t *testing.T, dir string, body map[string]any) string {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	path := filepath.Join(dir, "body.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func goldLoan() map[string]any {
	return map[string]any{
		"loanType": "Gold Loan", "name": "Lakshmi Menon", "phone": "9988776655", "email": "lakshmi@example.com",
		"amount": 80000, "goldWeight": 42.5, "goldPurity": "22K",
	}
}

func TestConfigInitRefusesToOverwrite(t *testing.T) {
	w := newWorkspace(t)
	out := w.mustRun(t, "config", "init")
	assert.Contains(t, out, "intake.yml")

	_, err := w.run(t, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	w.mustRun(t, "config", "init", "--force")
	cfg, err := config.Load(filepath.Join(w.dir, "intake.yml"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestMigrateReportsSchemaVersion(t *testing.T) {
	w := newWorkspace(t)
	out := w.mustRun(t, "migrate")
	assert.Contains(t, out, "schema version 2")
}

func TestLocalApplyListDecide(t *testing.T) {
	w := newWorkspace(t)
	body := writeBody(t, w.dir, goldLoan())

	out := w.mustRun(t, "--json", "apply", "loans", "--file", body)
	var sub intakesdk.Submission
	require.NoError(t, json.Unmarshal([]byte(out), &sub))
	assert.Equal(t, "Gold Loan application submitted successfully", sub.Message)
	assert.True(t, strings.HasPrefix(sub.ReferenceNumber, "LN"), sub.ReferenceNumber)

	out = w.mustRun(t, "--json", "list", "loan", "--status", "pending", "--type", "gold")
	var page intakesdk.Page
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	assert.EqualValues(t, 1, page.Total)
	require.Len(t, page.Data, 1)
	assert.Equal(t, sub.RecordID, page.Data[0].ID)

	out = w.mustRun(t, "--actor-id", "officer-2", "approve", "loan", sub.ReferenceNumber)
	assert.Contains(t, out, "approved by officer-2")

	_, err := w.run(t, "reject", "loan", sub.ReferenceNumber)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	out = w.mustRun(t, "events", "loan", sub.RecordID)
	assert.Contains(t, out, domain.EventSubmitted)
	assert.Contains(t, out, domain.EventApproved)

	out = w.mustRun(t, "show", "loan", sub.ReferenceNumber)
	assert.Contains(t, out, "Lakshmi Menon")
	assert.Contains(t, out, "goldPurity")

	out = w.mustRun(t, "stats")
	assert.Contains(t, out, "loan")

	out = w.mustRun(t, "--json", "search", "lakshmi")
	var found []domain.Application
	require.NoError(t, json.Unmarshal([]byte(out), &found))
	require.Len(t, found, 1)
}

func TestApplyWithSetOverrides(t *testing.T) {
	w := newWorkspace(t)
	body := writeBody(t, w.dir, goldLoan())
	_, err := w.run(t, "apply", "loan", "--file", body, "--set", "phone=12345")
	require.Error(t, err)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve.Invalid, 1)
	assert.Equal(t, "phone", ve.Invalid[0].Field)

	_, err = w.run(t, "apply", "loan", "--set", "novalue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key=value")
}

func TestUnknownFamily(t *testing.T) {
	w := newWorkspace(t)
	_, err := w.run(t, "list", "mortgage")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown product family")
}

func TestTokenRequiresSecret(t *testing.T) {
	w := newWorkspace(t)
	_, err := w.run(t, "token", "reviewer-1")
	require.Error(t, err)

	t.Setenv("INTAKE_SERVER_JWT_SECRET", "cli-secret")
	out := w.mustRun(t, "token", "reviewer-1", "--role", auth.RoleAdmin)
	p, err := auth.Parse(strings.TrimSpace(out), "cli-secret")
	require.NoError(t, err)
	assert.Equal(t, "reviewer-1", p.ActorID)
	assert.True(t, p.HasRole(auth.RoleAdmin))
}

func TestRemoteModeUsesServer(t *testing.T) {
	conn, err := db.Open(db.Config{Driver: db.DriverSQLite, Path: filepath.Join(t.TempDir(), "remote.db")})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, migrate.Migrate(conn))
	e := engine.New(repo.NewSQL(conn), config.Default(), nil, nil)
	handler, err := server.New(server.Config{Engine: e, BasePath: "/api"})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	w := newWorkspace(t)
	body := writeBody(t, w.dir, goldLoan())
	out := w.mustRun(t, "--server", srv.URL+"/api", "--json", "apply", "loan", "--file", body)
	var sub intakesdk.Submission
	require.NoError(t, json.Unmarshal([]byte(out), &sub))

	out = w.mustRun(t, "--server", srv.URL+"/api", "--actor-id", "remote-officer", "reject", "loan", sub.RecordID)
	assert.Contains(t, out, "rejected by remote-officer")

	_, err = os.Stat(filepath.Join(w.dir, "intake.db"))
	assert.True(t, os.IsNotExist(err), "remote mode must not open the local store")
}
