package routes

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrivest/internal/business/capitalpool"
	"agrivest/internal/business/cashflow"
	"agrivest/internal/business/distribution"
	"agrivest/internal/business/holding"
	"agrivest/internal/handlers"
	"agrivest/internal/models"
	"agrivest/internal/settlement"
	"agrivest/internal/store"
	"agrivest/internal/testutil"
	"agrivest/internal/wallet"
	"agrivest/pkg/config"
)

type api struct {
	t      *testing.T
	router *gin.Engine
	clock  *clockwork.FakeClock
}

func newAPI(t *testing.T) *api {
	gin.SetMode(gin.TestMode)
	db := testutil.NewTestDB(t)
	uow := store.New(db, sql.LevelDefault)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))

	registry := holding.NewRegistry(uow, clock)
	wallets := wallet.NewDirectory(db)
	engine, err := distribution.NewEngine(uow, registry, distribution.DefaultWaterfall(),
		settlement.NewLedgerSettler(db, clock), wallets, clock, distribution.DefaultOptions())
	require.NoError(t, err)

	h := &handlers.Handler{
		DB:       db,
		Cashflow: cashflow.NewLedger(uow, clock, 2),
		Holdings: registry,
		Pool:     capitalpool.NewLedger(uow, clock, 2),
		Engine:   engine,
		Wallets:  wallets,
		Clock:    clock,
	}
	return &api{t: t, router: SetupRouter(h, config.ServerSettings{}), clock: clock}
}

func (a *api) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *api) decode(w *httptest.ResponseRecorder, out interface{}) {
	a.t.Helper()
	require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func (a *api) mustCreate(path string, body interface{}, out interface{}) {
	a.t.Helper()
	w := a.do(http.MethodPost, path, body)
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	if out != nil {
		a.decode(w, out)
	}
}

func (a *api) project() models.Project {
	var p models.Project
	a.mustCreate("/projects", gin.H{
		"name":             "olive-grove",
		"revenue_account":  "olive-revenue",
		"treasury_account": "treasury",
		"lp_pool_account":  "lp-pool",
	}, &p)
	return p
}

func TestHealth(t *testing.T) {
	a := newAPI(t)
	w := a.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestDistributionLifecycle(t *testing.T) {
	a := newAPI(t)
	p := a.project()
	assert.Equal(t, "USD", p.Currency)

	for holder, tokens := range map[string]int64{"A": 700, "B": 300} {
		a.mustCreate("/token-balances/issue", gin.H{"holder_id": holder, "project_id": p.ID, "amount": tokens}, nil)
		w := a.do(http.MethodPost, "/wallets", gin.H{"holder_id": holder, "address": "wallet-" + holder})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	var event models.CashflowEvent
	a.mustCreate("/cashflow-events", gin.H{"project_id": p.ID, "amount": "100000", "kind": "revenue"}, &event)
	assert.Equal(t, models.CashflowStatusRecorded, event.Status)

	// not verified yet
	w := a.do(http.MethodPost, fmt.Sprintf("/distributions/execute/%d", event.ID), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(http.MethodPost, fmt.Sprintf("/cashflow-events/%d/verify", event.ID), gin.H{"reviewer_id": "auditor-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(http.MethodGet, fmt.Sprintf("/distributions/preview/%d", event.ID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var preview distribution.Preview
	a.decode(w, &preview)
	assert.EqualValues(t, 1000, preview.TotalTokens)
	assert.Equal(t, "30000.00", preview.Split.Regenerator.StringFixed(2))

	var executed struct {
		Distribution models.Distribution    `json:"distribution"`
		Legs         []models.SettlementLeg `json:"legs"`
	}
	a.mustCreate(fmt.Sprintf("/distributions/execute/%d", event.ID), nil, &executed)
	assert.Equal(t, "40000.00", executed.Distribution.LpReplenishmentAmount.StringFixed(2))
	assert.Len(t, executed.Legs, 4)

	// exactly once
	w = a.do(http.MethodPost, fmt.Sprintf("/distributions/execute/%d", event.ID), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(http.MethodGet, fmt.Sprintf("/distributions/%d", executed.Distribution.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Distribution models.Distribution    `json:"distribution"`
		Legs         []models.SettlementLeg `json:"legs"`
	}
	a.decode(w, &got)
	require.Len(t, got.Distribution.Entries, 2)
	assert.Equal(t, "A", got.Distribution.Entries[0].HolderID)
	assert.Equal(t, "21000.00", got.Distribution.Entries[0].ShareAmount.StringFixed(2))
	assert.Equal(t, models.DistributionSettlementSettled, got.Distribution.SettlementStatus)

	w = a.do(http.MethodGet, "/distributions/holder/B", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Data       []models.DistributionEntry `json:"data"`
		Pagination map[string]interface{}     `json:"pagination"`
	}
	a.decode(w, &page)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "9000.00", page.Data[0].ShareAmount.StringFixed(2))
	assert.EqualValues(t, 1, page.Pagination["total_count"])

	w = a.do(http.MethodPost, "/distributions/reconcile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report distribution.ReconcileReport
	a.decode(w, &report)
	assert.Equal(t, 0, report.Checked)

	w = a.do(http.MethodGet, "/system-logs?module=distribution", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var logs struct {
		Data []models.SystemLog `json:"data"`
	}
	a.decode(w, &logs)
	assert.NotEmpty(t, logs.Data)
}

func TestTokenBalanceEndpoints(t *testing.T) {
	a := newAPI(t)
	p := a.project()
	a.mustCreate("/token-balances/issue", gin.H{"holder_id": "A", "project_id": p.ID, "amount": 100}, nil)

	w := a.do(http.MethodPost, "/token-balances/transfer", gin.H{"holder_id": "A", "to_holder_id": "B", "project_id": p.ID, "amount": 500})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = a.do(http.MethodPost, "/token-balances/transfer", gin.H{"holder_id": "A", "to_holder_id": "B", "project_id": p.ID, "amount": 40})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	unlockAt := a.clock.Now().Add(time.Hour)
	w = a.do(http.MethodPost, "/token-balances/lock", gin.H{
		"holder_id": "A", "project_id": p.ID, "amount": 50, "lock_type": "time_locked", "unlock_at": unlockAt,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var locked models.TokenBalance
	a.decode(w, &locked)
	assert.EqualValues(t, 60, locked.TotalTokens)
	assert.EqualValues(t, 50, locked.LockedTokens)

	w = a.do(http.MethodGet, fmt.Sprintf("/token-balances/project/%d/snapshot", p.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap holding.Snapshot
	a.decode(w, &snap)
	assert.EqualValues(t, 100, snap.TotalTokens)
	assert.Len(t, snap.Holdings, 2)

	a.clock.Advance(2 * time.Hour)
	w = a.do(http.MethodPost, "/token-balances/sweep-unlocks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var swept map[string]int
	a.decode(w, &swept)
	assert.Equal(t, 1, swept["released"])

	w = a.do(http.MethodGet, "/token-balances/holder/A", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var balances []models.TokenBalance
	a.decode(w, &balances)
	require.Len(t, balances, 1)
	assert.EqualValues(t, 60, balances[0].LiquidTokens)

	w = a.do(http.MethodGet, fmt.Sprintf("/token-balances/project/%d/snapshot?as_of=bogus", p.ID), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCapitalPoolEndpoints(t *testing.T) {
	a := newAPI(t)
	p := a.project()

	var c1, c2 models.Contribution
	a.mustCreate("/capital-pool/contributions", gin.H{"contributor_id": "C1", "amount": "600"}, &c1)
	a.mustCreate("/capital-pool/contributions", gin.H{"contributor_id": "C2", "amount": "400"}, &c2)
	for _, id := range []uint{c1.ID, c2.ID} {
		w := a.do(http.MethodPost, fmt.Sprintf("/capital-pool/contributions/%d/approve", id), gin.H{"admin_id": "admin"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	w := a.do(http.MethodPost, fmt.Sprintf("/capital-pool/contributions/%d/approve", c1.ID), gin.H{"admin_id": "admin"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(http.MethodPost, "/capital-pool/allocations", gin.H{"project_id": p.ID, "amount": "5000", "admin_id": "admin"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var alloc models.Allocation
	a.mustCreate("/capital-pool/allocations", gin.H{"project_id": p.ID, "amount": "500", "purpose": "irrigation", "admin_id": "admin"}, &alloc)
	assert.True(t, alloc.TotalAmount.Equal(decimal.NewFromInt(500)))

	w = a.do(http.MethodGet, "/capital-pool/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var balance struct {
		Available decimal.Decimal `json:"available_balance"`
	}
	a.decode(w, &balance)
	assert.Equal(t, "500.00", balance.Available.StringFixed(2))

	w = a.do(http.MethodGet, "/capital-pool/shares", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var shares []models.PoolContributor
	a.decode(w, &shares)
	assert.Len(t, shares, 2)

	w = a.do(http.MethodGet, fmt.Sprintf("/capital-pool/allocations?project_id=%d", p.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = a.do(http.MethodGet, "/capital-pool/contributions?status=approved", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestValidationErrors(t *testing.T) {
	a := newAPI(t)
	p := a.project()

	w := a.do(http.MethodPost, "/cashflow-events", gin.H{"project_id": p.ID, "amount": "-5", "kind": "revenue"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(http.MethodGet, "/cashflow-events/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(http.MethodGet, "/distributions/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(http.MethodGet, "/wallets/nobody", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := SetupRouter(&handlers.Handler{}, config.ServerSettings{AllowedOrigins: []string{"http://localhost:3000"}})

	req := httptest.NewRequest(http.MethodOptions, "/projects", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/projects", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
