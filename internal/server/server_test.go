package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankintake/internal/config"
	"bankintake/internal/db"
	"bankintake/internal/domain"
	"bankintake/internal/engine"
	"bankintake/internal/engine/auth"
	"bankintake/internal/logger"
	"bankintake/internal/metrics"
	"bankintake/internal/migrate"
	"bankintake/internal/repo"
)

type testServer struct {
	URL    string
	client *http.Client
	store  *repo.SQL
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, secret string) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{Driver: db.DriverSQLite, Path: filepath.Join(t.TempDir(), "intake.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := repo.NewSQL(conn)
	log := logger.NewTestLogger(t)
	m := metrics.New("intake")
	e := engine.New(store, config.Default(), log, m)
	handler, err := New(Config{Engine: e, BasePath: "/api", Auth: AuthConfig{JWTSecret: secret}, Metrics: m, Log: log})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{Timeout: 10 * time.Second},
		store:  store,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Success bool           `json:"success"`
	Code    string         `json:"code"`
	Error   string         `json:"error"`
	Details map[string]any `json:"details"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, data)
	}
	return env
}

// Raw JSON keeps 1100000.75 exact on the way in.
const carLoanBody = `{"loanType":"Car Loan","name":"Asha Rao","phone":"9876543210","email":"asha@example.com",
"amount":500000,"carBrand":"Tata","carModel":"Nexon","carPrice":1100000.75}`

func submitLoan(t *testing.T, srv *testServer) SubmitResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/loans/apply", carLoanBody, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("apply status %d: %s", res.StatusCode, data)
	}
	var out SubmitResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode submit: %v", err)
	}
	return out
}

func TestApplyAndReview(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	client := srv.Client()

	created := submitLoan(t, srv)
	assert.True(t, created.Success)
	assert.Equal(t, "Car Loan application submitted successfully", created.Message)
	assert.True(t, strings.HasPrefix(created.ReferenceNumber, "LN"))

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/loans/"+created.ReferenceNumber, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var got struct {
		Success bool `json:"success"`
		Data    struct {
			ID     string         `json:"id"`
			Status string         `json:"status"`
			Fields map[string]any `json:"applicantFields"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, created.RecordID, got.Data.ID)
	assert.Equal(t, "pending", got.Data.Status)
	assert.Contains(t, string(data), `"carPrice":1100000.75`)

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/api/loans/"+created.RecordID+"/approve", nil, map[string]string{"X-Actor-Id": "officer-3"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var decided DecisionResponse
	require.NoError(t, json.Unmarshal(data, &decided))
	assert.Equal(t, "Application approved", decided.Message)
	assert.Equal(t, domain.StatusApproved, decided.Data.Status)
	assert.Equal(t, "officer-3", decided.Data.DecidedBy)

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/api/loans/"+created.RecordID+"/reject", nil, nil)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	env := decodeError(t, data)
	assert.False(t, env.Success)
	assert.Equal(t, "invalid_transition", env.Code)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/loans/"+created.RecordID+"/events", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var evts EventsResponse
	require.NoError(t, json.Unmarshal(data, &evts))
	require.Len(t, evts.Data, 2)
	assert.Equal(t, domain.EventApproved, evts.Data[1].Type)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/cards/"+created.RecordID, nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	assert.Equal(t, "not_found", decodeError(t, data).Code)
}

func TestApplyValidationEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/loans/apply", map[string]any{
		"loanType": "Car Loan", "name": "Asha", "email": "bad", "amount": "500",
	}, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	env := decodeError(t, data)
	assert.Equal(t, "validation_failed", env.Code)
	missing, _ := env.Details["missingFields"].([]any)
	assert.Contains(t, missing, "phone")
	assert.Contains(t, missing, "carBrand")
	invalid, _ := env.Details["invalidFields"].([]any)
	assert.NotEmpty(t, invalid)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/loans/apply", "[1,2]", nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "bad_request", decodeError(t, data).Code)

	n, err := srv.store.Count(context.Background(), repo.Filter{Family: domain.FamilyLoan})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApplyFormEncodedAccount(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	form := url.Values{
		"accountType": {"Savings Account"}, "fullName": {"Asha Rao"}, "fatherName": {"Ravi Rao"},
		"dob": {"17/05/1990"}, "mobile": {"9876543210"}, "email": {"ASHA@example.com"},
		"address": {"12 MG Road"}, "state": {"Karnataka"}, "district": {"Bengaluru Urban"},
		"city": {"Bengaluru"}, "pincode": {"560001"}, "aadhaarFull": {"1234-5678-9012"},
		"personalPan": {"abcde1234f"}, "nomineeName": {"Ravi Rao"}, "nomineeRelation": {"Father"},
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/accounts/open", form.Encode(),
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var created SubmitResponse
	require.NoError(t, json.Unmarshal(data, &created))
	assert.Regexp(t, `^LNDB-\d{8}-\d{4}$`, created.ReferenceNumber)
	assert.Equal(t, "Savings Account application submitted successfully", created.Message)

	app, err := srv.store.FindByToken(context.Background(), domain.FamilyAccount, created.ReferenceNumber)
	require.NoError(t, err)
	assert.Equal(t, "asha@example.com", app.Fields.String("email"))
	assert.Equal(t, "ABCDE1234F", app.Fields.String("pan"))
	assert.Equal(t, "Main Branch", app.Fields.String("branch"))
}

func TestDuplicateSuppliedReference(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	body := strings.Replace(carLoanBody, `{`, `{"refNo":"LN-FIXED-01",`, 1)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/loans/apply", body, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/loans/apply", body, nil)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "duplicate_reference", decodeError(t, data).Code)
}

func TestListAndAdmin(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	client := srv.Client()
	first := submitLoan(t, srv)
	second := submitLoan(t, srv)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/loans?loanType=car&limit=1", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var list ListResponse
	require.NoError(t, json.Unmarshal(data, &list))
	assert.EqualValues(t, 2, list.Total)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, second.RecordID, list.Data[0].ID)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/loans?status=archived", nil, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/loans?type=boat", nil, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/loans?page=9223372036854775807", nil, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	_, _ = doJSON(t, client, http.MethodPut, srv.URL+"/api/loans/"+first.RecordID+"/reject", nil, nil)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/admin/stats", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(data, &stats))
	assert.EqualValues(t, 1, stats.Data.TotalPending)
	assert.EqualValues(t, 2, stats.Data.Total)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/admin/recent?status=pending", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var recent ApplicationsResponse
	require.NoError(t, json.Unmarshal(data, &recent))
	require.Equal(t, 1, recent.Count)
	assert.Equal(t, second.RecordID, recent.Data[0].ID)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/admin/search?q=asha", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var found ApplicationsResponse
	require.NoError(t, json.Unmarshal(data, &found))
	assert.Equal(t, 2, found.Count)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/admin/search", nil, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestStaffAuthWithJWT(t *testing.T) {
	srv, cleanup := newTestServer(t, "s3cret")
	defer cleanup()
	client := srv.Client()
	created := submitLoan(t, srv)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/loans", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
	assert.Equal(t, "unauthorized", decodeError(t, data).Code)

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/loans", nil, map[string]string{"Authorization": "Bearer nonsense"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	applicant, err := auth.Sign("s3cret", "someone", []string{"applicant"}, time.Hour, time.Now())
	require.NoError(t, err)
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/api/loans/"+created.RecordID+"/approve", nil,
		map[string]string{"Authorization": "Bearer " + applicant})
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	staff, err := auth.Sign("s3cret", "officer-9", []string{auth.RoleStaff}, time.Hour, time.Now())
	require.NoError(t, err)
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/api/loans/"+created.RecordID+"/approve", nil,
		map[string]string{"Authorization": "Bearer " + staff, "X-Actor-Id": "spoofed"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var decided DecisionResponse
	require.NoError(t, json.Unmarshal(data, &decided))
	assert.Equal(t, "officer-9", decided.Data.DecidedBy)

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestHealthMetricsAndOpenAPI(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	client := srv.Client()
	submitLoan(t, srv)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), `intake_submissions_total{family="loan",outcome="ok",product_type="carLoan"} 1`)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var oas map[string]any
	require.NoError(t, json.Unmarshal(data, &oas))
	paths, _ := oas["paths"].(map[string]any)
	assert.Contains(t, paths, "/api/loans/{token}/approve")
	assert.Contains(t, paths, "/api/accounts/open")
	components, _ := oas["components"].(map[string]any)
	schemas, _ := components["schemas"].(map[string]any)
	apiErr, _ := schemas["ApiError"].(map[string]any)
	require.NotNil(t, apiErr, "ApiError component missing")
	props, _ := apiErr["properties"].(map[string]any)
	assert.Contains(t, props, "success")
	assert.Contains(t, props, "code")
	assert.Contains(t, props, "error")
	approve, _ := paths["/api/loans/{token}/approve"].(map[string]any)
	put, _ := approve["put"].(map[string]any)
	responses, _ := put["responses"].(map[string]any)
	def, _ := responses["default"].(map[string]any)
	content, _ := def["content"].(map[string]any)
	media, _ := content["application/json"].(map[string]any)
	schema, _ := media["schema"].(map[string]any)
	assert.Equal(t, "#/components/schemas/ApiError", schema["$ref"])

	require.NoError(t, srv.store.Close())
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/health", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/admin/stats", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode, string(data))
	env := decodeError(t, data)
	assert.Equal(t, "store_unavailable", env.Code)
	assert.NotContains(t, env.Error, "closed")
	cleanup()
}
