//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrivest/internal/models"
)

func post(t *testing.T, path string, body interface{}, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(BaseURL+path, "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func get(t *testing.T, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(BaseURL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func createProject(t *testing.T) models.Project {
	name := uniqueName(t)
	var p models.Project
	require.Equal(t, http.StatusCreated, post(t, "/projects", map[string]string{
		"name":             name,
		"revenue_account":  name + "-revenue",
		"treasury_account": "treasury",
		"lp_pool_account":  "lp-pool",
	}, &p))
	return p
}

func issue(t *testing.T, p models.Project, holderID string, amount int64) {
	require.Equal(t, http.StatusCreated, post(t, "/token-balances/issue", map[string]interface{}{
		"holder_id": holderID, "project_id": p.ID, "amount": amount,
	}, nil))
	require.Equal(t, http.StatusOK, post(t, "/wallets", map[string]string{
		"holder_id": holderID, "address": "wallet-" + holderID,
	}, nil))
}

func verifiedEvent(t *testing.T, p models.Project, amount string) models.CashflowEvent {
	var event models.CashflowEvent
	require.Equal(t, http.StatusCreated, post(t, "/cashflow-events", map[string]interface{}{
		"project_id": p.ID, "amount": amount, "kind": "revenue",
	}, &event))
	require.Equal(t, http.StatusOK, post(t, fmt.Sprintf("/cashflow-events/%d/verify", event.ID),
		map[string]string{"reviewer_id": "auditor"}, &event))
	return event
}

type executed struct {
	Distribution models.Distribution    `json:"distribution"`
	Legs         []models.SettlementLeg `json:"legs"`
}

func TestTwoHolderDistribution(t *testing.T) {
	p := createProject(t)
	a, b := uniqueName(t)+"-A", uniqueName(t)+"-B"
	issue(t, p, a, 700)
	issue(t, p, b, 300)
	event := verifiedEvent(t, p, "100000")

	var res executed
	require.Equal(t, http.StatusCreated, post(t, fmt.Sprintf("/distributions/execute/%d", event.ID), nil, &res))
	d := res.Distribution
	assert.Equal(t, "40000.00", d.LpReplenishmentAmount.StringFixed(2))
	assert.Equal(t, "30000.00", d.RegeneratorTotalAmount.StringFixed(2))
	assert.Equal(t, "20000.00", d.TreasuryAmount.StringFixed(2))
	assert.Equal(t, "10000.00", d.ProjectRetainedAmount.StringFixed(2))

	shares := map[string]string{}
	for _, e := range d.Entries {
		shares[e.HolderID] = e.ShareAmount.StringFixed(2)
	}
	assert.Equal(t, map[string]string{a: "21000.00", b: "9000.00"}, shares)
	assert.Len(t, res.Legs, 4)

	var got executed
	require.Equal(t, http.StatusOK, get(t, fmt.Sprintf("/distributions/%d", d.ID), &got))
	assert.Equal(t, models.DistributionSettlementSettled, got.Distribution.SettlementStatus)

	var stored models.CashflowEvent
	require.Equal(t, http.StatusOK, get(t, fmt.Sprintf("/cashflow-events/%d", event.ID), &stored))
	assert.Equal(t, models.CashflowStatusDistributed, stored.Status)
}

func TestConcurrentExecuteDistributesOnce(t *testing.T) {
	p := createProject(t)
	issue(t, p, uniqueName(t)+"-A", 10)
	event := verifiedEvent(t, p, "999.99")

	const callers = 8
	codes := make([]int, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Post(fmt.Sprintf("%s/distributions/execute/%d", BaseURL, event.ID), "application/json", nil)
			if err != nil {
				return
			}
			resp.Body.Close()
			codes[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	created := 0
	for _, c := range codes {
		if c == http.StatusCreated {
			created++
		} else {
			assert.Equal(t, http.StatusConflict, c)
		}
	}
	assert.Equal(t, 1, created)

	var count int64
	require.NoError(t, DB.Model(&models.Distribution{}).Where("cashflow_event_id = ?", event.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestConcurrentTransfersConserveTokens(t *testing.T) {
	p := createProject(t)
	a, b := uniqueName(t)+"-A", uniqueName(t)+"-B"
	issue(t, p, a, 500)
	issue(t, p, b, 500)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		from, to := a, b
		if i%2 == 1 {
			from, to = b, a
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, _ := json.Marshal(map[string]interface{}{
				"holder_id": from, "to_holder_id": to, "project_id": p.ID, "amount": 7,
			})
			resp, err := http.Post(BaseURL+"/token-balances/transfer", "application/json", bytes.NewReader(body))
			if err == nil {
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	var balances []models.TokenBalance
	require.NoError(t, DB.Where("project_id = ?", p.ID).Find(&balances).Error)
	var total int64
	for _, bal := range balances {
		assert.True(t, bal.Consistent(), "%+v", bal)
		total += bal.TotalTokens
	}
	assert.EqualValues(t, 1000, total)
}

func TestConcurrentAllocationsNeverOverdraw(t *testing.T) {
	p := createProject(t)

	var before struct {
		Available decimal.Decimal `json:"available_balance"`
	}
	require.Equal(t, http.StatusOK, get(t, "/capital-pool/balance", &before))

	var c models.Contribution
	require.Equal(t, http.StatusCreated, post(t, "/capital-pool/contributions", map[string]string{
		"contributor_id": uniqueName(t), "amount": "1000",
	}, &c))
	require.Equal(t, http.StatusOK, post(t, fmt.Sprintf("/capital-pool/contributions/%d/approve", c.ID),
		map[string]string{"admin_id": "admin"}, nil))

	const callers = 10
	amount := before.Available.Add(decimal.NewFromInt(1000)).Div(decimal.NewFromInt(6)).Floor()
	var mu sync.Mutex
	allocated := decimal.Zero
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, _ := json.Marshal(map[string]interface{}{"project_id": p.ID, "amount": amount.String(), "admin_id": "admin"})
			resp, err := http.Post(BaseURL+"/capital-pool/allocations", "application/json", bytes.NewReader(body))
			if err != nil {
				return
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusCreated {
				mu.Lock()
				allocated = allocated.Add(amount)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	var after struct {
		Available decimal.Decimal `json:"available_balance"`
	}
	require.Equal(t, http.StatusOK, get(t, "/capital-pool/balance", &after))
	assert.False(t, after.Available.IsNegative())
	assert.True(t, before.Available.Add(decimal.NewFromInt(1000)).Sub(allocated).Equal(after.Available),
		"before %s allocated %s after %s", before.Available, allocated, after.Available)
}
