package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts Options) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts.BaseURL = srv.URL + "/api"
	if opts.System == "" {
		opts.System = "test"
	}
	client, err := New(opts)
	require.NoError(t, err)
	return client
}

func TestDoSendsAuthAndDecodes(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.Equal(t, "/api/v1/things", r.URL.Path)
		require.Equal(t, "team_1", r.URL.Query().Get("teamId"))
		require.Equal(t, "10", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"thing"}`))
	}, Options{Token: "secret", Query: url.Values{"teamId": {"team_1"}}})

	var out struct{ Name string }
	require.NoError(t, client.Get(context.Background(), "/v1/things", url.Values{"limit": {"10"}}, &out))
	require.Equal(t, "thing", out.Name)
}

func TestDoClassifiesStatuses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		check  func(t *testing.T, err error)
	}{
		{http.StatusNotFound, func(t *testing.T, err error) {
			require.True(t, errors.Is(err, reconerrors.ErrNotFound))
		}},
		{http.StatusUnauthorized, func(t *testing.T, err error) {
			var te *reconerrors.TransportError
			require.ErrorAs(t, err, &te)
			require.Equal(t, reconerrors.TransportAuth, te.Kind)
		}},
		{http.StatusTooManyRequests, func(t *testing.T, err error) {
			var te *reconerrors.TransportError
			require.ErrorAs(t, err, &te)
			require.Equal(t, reconerrors.TransportRateLimit, te.Kind)
		}},
		{http.StatusBadGateway, func(t *testing.T, err error) {
			var te *reconerrors.TransportError
			require.ErrorAs(t, err, &te)
			require.Equal(t, reconerrors.TransportStatus, te.Kind)
			require.Equal(t, 502, StatusCode(err))
			require.False(t, errors.Is(err, reconerrors.ErrNotFound))
		}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			t.Parallel()
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}, Options{})
			status, err := client.Do(context.Background(), http.MethodGet, "/x", nil, nil, nil)
			require.Error(t, err)
			require.Equal(t, tc.status, status)
			tc.check(t, err)
		})
	}
}

func TestRateLimitIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}, Options{})

	_, err := client.Do(context.Background(), http.MethodGet, "/x", nil, nil, nil)
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestTimeoutIsTransportTimeout(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, Options{Timeout: 20 * time.Millisecond})

	_, err := client.Do(context.Background(), http.MethodGet, "/slow", nil, nil, nil)
	var te *reconerrors.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, reconerrors.TransportTimeout, te.Kind)
}

func TestDecodeFailure(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}, Options{})

	var out map[string]any
	err := client.Get(context.Background(), "/x", nil, &out)
	var te *reconerrors.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, reconerrors.TransportDecode, te.Kind)
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Options{System: "x"})
	require.Error(t, err)
	_, err = New(Options{System: "x", BaseURL: "ftp://example.com"})
	require.Error(t, err)
}

func TestDoSendsJSONBody(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "Token abc", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
	}, Options{Token: "abc", Scheme: "Token"})

	status, err := client.Do(context.Background(), http.MethodPost, "/items", nil, map[string]string{"a": "b"}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, status)
}
