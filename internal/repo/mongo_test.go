package repo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankintake/internal/domain"
)

func newMongoStore(t *testing.T) *Mongo {
	t.Helper()
	uri := os.Getenv("INTAKE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("INTAKE_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m, err := ConnectMongo(ctx, uri, "intake_test_"+uuid.NewString()[:8])
	require.NoError(t, err)
	require.NoError(t, m.EnsureIndexes(ctx))
	t.Cleanup(func() {
		_ = m.DB.Drop(context.Background())
		_ = m.Close()
	})
	return m
}

func TestMongoDocumentRoundTrip(t *testing.T) {
	app := sampleApp("id-1", "LN1", domain.ProductCarLoan, "Asha", baseTime)
	app.Fields["carBrand"] = "Tata"
	doc, err := toDoc(app)
	require.NoError(t, err)
	back, err := doc.application()
	require.NoError(t, err)
	assert.Equal(t, app.Fields.String("carBrand"), back.Fields.String("carBrand"))
	d, ok := back.Fields.Decimal("loanAmount")
	require.True(t, ok)
	assert.True(t, d.Equal(decimal.RequireFromString("250000.50")))
}

func TestMongoStoreLifecycle(t *testing.T) {
	m := newMongoStore(t)
	ctx := context.Background()
	app := sampleApp("id-1", "LN1700000000000001", domain.ProductCarLoan, "Asha Rao", baseTime)
	mustCreate(t, m, app)
	mustCreate(t, m, sampleApp("id-2", "LN1700000000000002", domain.ProductHomeLoan, "Vikram", baseTime.Add(time.Minute)))

	err := m.Create(ctx, sampleApp("id-3", app.ReferenceNumber, domain.ProductGoldLoan, "X", baseTime), domain.Event{})
	assert.ErrorIs(t, err, domain.ErrDuplicateReference)

	got, err := m.FindByToken(ctx, domain.FamilyLoan, app.ReferenceNumber)
	require.NoError(t, err)
	assert.Equal(t, app.ID, got.ID)
	_, err = m.FindByToken(ctx, domain.FamilyCard, app.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := m.Find(ctx, Filter{Family: domain.FamilyLoan})
	require.NoError(t, err)
	assert.Equal(t, []string{"id-2", "id-1"}, ids(list))

	hits, err := m.Find(ctx, Filter{Family: domain.FamilyLoan, Query: "asha"})
	require.NoError(t, err)
	assert.Equal(t, []string{"id-1"}, ids(hits))

	u := StatusUpdate{ID: app.ID, Family: app.Family, Expected: domain.StatusPending, New: domain.StatusApproved, DecidedAt: baseTime, UpdatedAt: baseTime, ActorID: "o"}
	matched, err := m.UpdateStatus(ctx, u, domain.Event{TS: baseTime, Type: domain.EventApproved, ApplicationID: app.ID, Family: app.Family, ActorID: "o"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, matched)
	matched, err = m.UpdateStatus(ctx, u, domain.Event{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, matched)

	pending, err := m.Count(ctx, Filter{Family: domain.FamilyLoan, Status: domain.StatusPending})
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)

	evts, err := m.Events(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, domain.EventApproved, evts[1].Type)
}
