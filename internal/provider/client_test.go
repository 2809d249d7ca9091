// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yutupremsatu/dracinbox/internal/canonical"
	"github.com/yutupremsatu/dracinbox/internal/crypto"
)

const testSecret = "test-secret"

func newTestClient(t *testing.T, p canonical.Provider, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(NewRegistry("id"), ClientOptions{
		BaseURLs:          map[canonical.Provider]string{p: srv.URL},
		EnvelopeSecret:    testSecret,
		HTTPClient:        srv.Client(),
		RequestsPerSecond: 1000,
		BreakerThreshold:  3,
		BreakerReset:      50 * time.Millisecond,
	})
}

func TestClientDetailPlainPayload(t *testing.T) {
	payload := fixture(t, "netshort_detail.json")
	c := newTestClient(t, canonical.ProviderNetShort, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/detail", r.URL.Path)
		assert.Equal(t, "sp-77", r.URL.Query().Get("id"))
		_, _ = w.Write(payload)
	})

	title, err := c.Detail(context.Background(), canonical.ProviderNetShort, "sp-77")
	require.NoError(t, err)
	assert.Equal(t, "sp-77", title.TitleID)
	assert.Len(t, title.Episodes, 3)
}

func TestClientDetailEncryptedEnvelope(t *testing.T) {
	ciphertext, err := crypto.Encrypt(fixture(t, "netshort_detail.json"), testSecret)
	require.NoError(t, err)

	c := newTestClient(t, canonical.ProviderNetShort, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":"` + ciphertext + `"}`))
	})

	title, err := c.Detail(context.Background(), canonical.ProviderNetShort, "sp-77")
	require.NoError(t, err)
	assert.Equal(t, "Istri Sang CEO", title.Name)
}

func TestClientEpisodesSelectorQuery(t *testing.T) {
	payload := fixture(t, "reelshort_episode.json")
	c := newTestClient(t, canonical.ProviderReelShort, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/episodes", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("ep"))
		_, _ = w.Write(payload)
	})

	episodes, err := c.Episodes(context.Background(), canonical.ProviderReelShort, "b9", 2)
	require.NoError(t, err)
	require.Len(t, episodes, 1)
	assert.Equal(t, 1, episodes[0].Index)
}

func TestClientNormalizationErrorNotRetried(t *testing.T) {
	c := newTestClient(t, canonical.ProviderMelolo, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"unexpected":true}`))
	})

	_, err := c.Episodes(context.Background(), canonical.ProviderMelolo, "m-1", 1)
	_, ok := IsNormalizationError(err)
	assert.True(t, ok, "got %v", err)
}

func TestClientUpstreamErrorOpensBreaker(t *testing.T) {
	c := newTestClient(t, canonical.ProviderDramaBox, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := c.Detail(ctx, canonical.ProviderDramaBox, "db-41")
		require.Error(t, err)
	}
	assert.Equal(t, "open", c.breakers[canonical.ProviderDramaBox].State())

	// While open the upstream is not contacted at all.
	_, err := c.Detail(ctx, canonical.ProviderDramaBox, "db-41")
	require.Error(t, err)
}

func TestClientNoBaseConfigured(t *testing.T) {
	c := NewClient(NewRegistry("id"), ClientOptions{EnvelopeSecret: testSecret})
	_, err := c.Detail(context.Background(), canonical.ProviderFreeReels, "fr-12")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no metadata base")
}
