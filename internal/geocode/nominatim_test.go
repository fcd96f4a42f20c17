package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *NominatimClient {
	return NewNominatimClient(NominatimConfig{
		BaseURL:    url,
		UserAgent:  "ecolog-test/1.0",
		Timeout:    2 * time.Second,
		RatePerSec: 100,
		Attempts:   3,
		RetryDelay: time.Millisecond,
	})
}

func TestNominatimClient_PicksMostSpecificAddressField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		assert.Equal(t, "-1.4558", r.URL.Query().Get("lat"))
		assert.Equal(t, "-48.4902", r.URL.Query().Get("lon"))
		assert.Equal(t, "1", r.URL.Query().Get("addressdetails"))
		assert.Equal(t, "ecolog-test/1.0", r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"display_name":"Rua X, Umarizal, Belém","address":{"suburb":"Umarizal","city":"Belém"}}`))
	}))
	defer srv.Close()

	place, err := newTestClient(srv.URL).Reverse(context.Background(), -1.4558, -48.4902)
	require.NoError(t, err)
	assert.Equal(t, "Umarizal", place)
}

func TestNominatimClient_FallsBackToDisplayName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"display_name":"Baía do Guajará, Pará, Brasil","address":{}}`))
	}))
	defer srv.Close()

	place, err := newTestClient(srv.URL).Reverse(context.Background(), -1.45, -48.52)
	require.NoError(t, err)
	assert.Equal(t, "Baía do Guajará", place)
}

func TestNominatimClient_UnableToGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"Unable to geocode"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Reverse(context.Background(), 0, 0)
	assert.ErrorIs(t, err, ErrNoPlace)
}

func TestNominatimClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"address":{"neighbourhood":"Reduto"}}`))
	}))
	defer srv.Close()

	place, err := newTestClient(srv.URL).Reverse(context.Background(), -1.45, -48.49)
	require.NoError(t, err)
	assert.Equal(t, "Reduto", place)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestNominatimClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Reverse(context.Background(), -1.45, -48.49)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
