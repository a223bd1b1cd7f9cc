package remotecart

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"julianmorley.ca/con-plar/boxcart/pkg/global"
	"julianmorley.ca/con-plar/boxcart/pkg/models"
)

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func serverCart() *models.Cart {
	return &models.Cart{
		Lines: []models.CartLine{{
			ID:            "srv-1",
			ProductID:     "p-1",
			QuantityBoxes: 3,
			Amount:        decimal.NewFromInt(300),
			Savings:       decimal.Zero,
		}},
		ClientTier:   models.TierRetail,
		TotalBoxes:   3,
		TotalItems:   36,
		TotalAmount:  decimal.NewFromInt(300),
		TotalSavings: decimal.Zero,
		LineCount:    1,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", 2*time.Second, func() string { return "tok-123" })
}

func TestAddSendsBodyAndAuth(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/cart/add", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))

		var body models.MergeItem
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "p-1", body.ProductID)
		assert.Equal(t, 3, body.QuantityBoxes)

		writeJSON(w, http.StatusOK, global.SuccessResponse(serverCart()))
	})

	cart, err := client.Add(context.Background(), "p-1", 3)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, "srv-1", cart.Lines[0].ID)
	assert.True(t, decimal.NewFromInt(300).Equal(cart.TotalAmount))
}

func TestUpdateAndRemoveEscapeLineID(t *testing.T) {
	var paths []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.EscapedPath())
		writeJSON(w, http.StatusOK, global.SuccessResponse(serverCart()))
	})

	_, err := client.Update(context.Background(), "a/b", 2)
	require.NoError(t, err)
	_, err = client.Remove(context.Background(), "line-9")
	require.NoError(t, err)

	assert.Equal(t, []string{"PUT /cart/items/a%2Fb", "DELETE /cart/items/line-9"}, paths)
}

func TestMergeSendsIdempotencyKey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cart/merge", r.URL.Path)
		assert.Equal(t, "merge-abc", r.Header.Get(IdempotencyHeader))

		var body models.MergeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "merge-abc", body.MergeToken)
		require.Len(t, body.Items, 2)

		writeJSON(w, http.StatusOK, global.SuccessResponse(models.MergeResult{
			Cart:  serverCart(),
			Stats: &models.MergeStats{Added: 1, Updated: 1},
		}))
	})

	res, err := client.Merge(context.Background(), models.MergeRequest{
		Items: []models.MergeItem{
			{ProductID: "p-1", QuantityBoxes: 1},
			{ProductID: "p-2", QuantityBoxes: 4},
		},
		MergeToken: "merge-abc",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Stats)
	assert.Equal(t, 1, res.Stats.Added)
	assert.Equal(t, 1, res.Stats.Updated)
	require.NotNil(t, res.Cart)
}

func TestClearWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, http.MethodDelete, r.Method)
		writeJSON(w, http.StatusOK, global.APIResponse{Status: global.StatusSuccess, Success: true, Message: "cleared"})
	}))
	defer srv.Close()

	client := New(srv.URL, time.Second, nil)
	require.NoError(t, client.Clear(context.Background()))
}

func TestErrorEnvelopeIsRemoteRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, global.ErrorResponse("Insufficient stock", nil))
	})

	_, err := client.Add(context.Background(), "p-1", 500)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindRemoteRejected))
	assert.False(t, models.IsRetriable(err))
	assert.Contains(t, err.Error(), "Insufficient stock")
}

func TestErrorStatusWithOKCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, global.ErrorResponse("cart locked", nil))
	})

	_, err := client.Get(context.Background())
	assert.True(t, models.IsKind(err, models.KindRemoteRejected))
}

func TestNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, global.ErrorResponse("Item not found in cart", nil))
	})

	_, err := client.Update(context.Background(), "missing", 1)
	assert.True(t, models.IsKind(err, models.KindNotFound))
}

func TestServerErrorIsRetriable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusServiceUnavailable)
	})

	_, err := client.Get(context.Background())
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindNetwork))
	assert.True(t, models.IsRetriable(err))
}

func TestMalformedResponseIsNetworkError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>gateway</html>"))
	})

	_, err := client.Validate(context.Background())
	assert.True(t, models.IsKind(err, models.KindNetwork))
}

func TestUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := New(url, time.Second, nil)
	_, err := client.Get(context.Background())
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindNetwork))
}

func TestValidateDecodesResult(t *testing.T) {
	prev, adj := 10, 3
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cart/validate", r.URL.Path)
		writeJSON(w, http.StatusOK, global.SuccessResponse(models.ValidationResult{
			AcceptedLines: serverCart().Lines,
			Issues: []models.Issue{{
				Kind:             models.IssueQuantityAdjusted,
				LineID:           "srv-1",
				Severity:         models.SeverityWarning,
				PreviousQuantity: &prev,
				AdjustedQuantity: &adj,
			}},
			CanCheckout: true,
		}))
	})

	res, err := client.Validate(context.Background())
	require.NoError(t, err)
	assert.True(t, res.CanCheckout)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, 3, *res.Issues[0].AdjustedQuantity)
}
