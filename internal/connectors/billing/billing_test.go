package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/reconciler/internal/desired"
	"github.com/alexisbeaulieu97/reconciler/internal/model"
)

func amount(v int64) *int64 { return &v }

func newServer(t *testing.T, prices map[string]price, hooks []webhookEndpoint) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/prices/"):
			p, ok := prices[strings.TrimPrefix(r.URL.Path, "/v1/prices/")]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"error":{"code":"resource_missing"}}`))
				return
			}
			_ = json.NewEncoder(w).Encode(p)
		case r.URL.Path == "/v1/webhook_endpoints":
			_ = json.NewEncoder(w).Encode(webhookList{Data: hooks})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMissingPriceFails(t *testing.T) {
	t.Parallel()

	srv := newServer(t, nil, nil)
	conn := New(Config{BaseURL: srv.URL, Token: "sk_test"}, &desired.BillingSpec{
		Prices: []desired.Price{{ID: "price_abc"}},
	})

	results, err := conn.Audit(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, model.StatusFail, results[0].Status)
	require.Equal(t, "billing", results[0].Scope)
	require.Contains(t, results[0].Message, "not found")
	require.Equal(t, 1, model.Summarize(results).Failed)
	require.Empty(t, results[0].ChangeID)
}

func TestPriceDrift(t *testing.T) {
	t.Parallel()

	srv := newServer(t, map[string]price{
		"price_ok":       {ID: "price_ok", Active: true, UnitAmount: amount(1500), Currency: "usd"},
		"price_inactive": {ID: "price_inactive", Active: false, UnitAmount: amount(1500), Currency: "usd"},
	}, nil)
	conn := New(Config{BaseURL: srv.URL, Token: "sk_test"}, &desired.BillingSpec{
		Prices: []desired.Price{
			{ID: "price_ok", UnitAmount: 1500, Currency: "usd"},
			{ID: "price_inactive", UnitAmount: 1500, Currency: "usd", Interval: "month"},
		},
	})

	results, err := conn.Audit(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.StatusPass, results[0].Status)
	require.Equal(t, model.StatusFail, results[1].Status)
	require.Equal(t, "active, interval differ", results[1].Message)
	require.Contains(t, results[1].Diff, "+interval: one_time")
}

func TestWebhookEvents(t *testing.T) {
	t.Parallel()

	srv := newServer(t, nil, []webhookEndpoint{
		{ID: "we_1", URL: "https://app.example.org/hooks/billing", Status: "enabled", EnabledEvents: []string{"invoice.paid"}},
		{ID: "we_2", URL: "https://app.example.org/hooks/all", Status: "disabled", EnabledEvents: []string{"*"}},
	})
	conn := New(Config{BaseURL: srv.URL, Token: "sk_test"}, &desired.BillingSpec{
		Webhooks: []desired.Webhook{
			{URL: "https://app.example.org/hooks/billing", Events: []string{"invoice.paid", "customer.subscription.deleted"}},
			{URL: "https://app.example.org/hooks/all", Events: []string{"invoice.paid"}},
			{URL: "https://app.example.org/hooks/missing", Events: []string{"invoice.paid"}},
		},
	})

	results, err := conn.Audit(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.Equal(t, model.StatusFail, results[0].Status)
	require.Equal(t, "missing events: customer.subscription.deleted", results[0].Message)

	require.Equal(t, model.StatusWarning, results[1].Status)
	require.Contains(t, results[1].Message, "disabled")

	require.Equal(t, model.StatusFail, results[2].Status)
	require.Equal(t, model.CategoryAbsent, results[2].Category)
}

func TestReadOnly(t *testing.T) {
	t.Parallel()

	conn := New(Config{Token: "sk_test"}, nil)
	require.False(t, conn.Capabilities().SupportsApply)
	_, err := conn.Apply(context.Background(), model.ChangeRequest{})
	require.Error(t, err)

	require.False(t, New(Config{}, nil).IsConfigured())
}
