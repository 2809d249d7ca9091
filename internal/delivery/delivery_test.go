// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yutupremsatu/dracinbox/internal/canonical"
)

func TestResolveDirect(t *testing.T) {
	r := NewResolver("http://relay.local/")
	v := canonical.VideoVariant{URL: "https://cdn.example.com/ep1.m3u8", QualityRank: 720}

	tgt := r.Resolve("ep-1", v, Policy{InitialMode: ModeDirect, Referer: "https://origin.example.com/"}, 0)
	assert.Equal(t, ModeDirect, tgt.Mode)
	assert.Equal(t, v.URL, tgt.ResolvedURL)
	assert.Equal(t, "https://origin.example.com/", tgt.Headers["Referer"])
}

func TestResolveRelayed(t *testing.T) {
	r := NewResolver("http://relay.local")
	v := canonical.VideoVariant{URL: "https://cdn.example.com/ep1.mp4"}

	tgt := r.Resolve("ep-1", v, Policy{InitialMode: ModeRelayed, Referer: "https://www.flickreels.com/"}, 2)
	require.Equal(t, ModeRelayed, tgt.Mode)

	u, err := url.Parse(tgt.ResolvedURL)
	require.NoError(t, err)
	assert.Equal(t, "/relay/video", u.Path)
	assert.Equal(t, v.URL, u.Query().Get("url"))
	assert.Equal(t, "https://www.flickreels.com/", u.Query().Get("referer"))
	assert.Equal(t, "ep-1-2", u.Query().Get("t"), "cache-bust is tied to (episode, attempt)")
}

func TestEscalateOnce(t *testing.T) {
	r := NewResolver("http://relay.local")
	v := canonical.VideoVariant{URL: "https://cdn.example.com/ep1.m3u8"}
	policy := Policy{InitialMode: ModeDirect}

	direct := r.Resolve("ep-1", v, policy, 0)
	relayed, err := r.Escalate(direct, policy)
	require.NoError(t, err)
	assert.Equal(t, ModeRelayed, relayed.Mode)
	assert.Contains(t, relayed.ResolvedURL, "/relay/video")

	_, err = r.Escalate(relayed, policy)
	assert.ErrorIs(t, err, ErrDeliveryExhausted)
}

func TestWarmupSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/relay/warmup", r.URL.Path)
		assert.Equal(t, "https://cdn.example.com/ep1.mp4", r.URL.Query().Get("url"))
		_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
	}))
	defer srv.Close()

	p := NewProber(srv.URL, srv.Client())
	require.NoError(t, p.Warmup(context.Background(), "https://cdn.example.com/ep1.mp4"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestWarmupDegraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"success": false})
	}))
	defer srv.Close()

	p := NewProber(srv.URL, srv.Client())
	err := p.Warmup(context.Background(), "https://cdn.example.com/ep1.mp4")
	assert.ErrorIs(t, err, ErrWarmupDegraded)
}

func TestWarmupProbeBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]bool{"success": false})
	}))
	defer srv.Close()

	p := NewProber(srv.URL, srv.Client())
	p.SetProbeBudget(1)
	err := p.Warmup(context.Background(), "https://cdn.example.com/ep1.mp4")
	assert.ErrorIs(t, err, ErrWarmupDegraded)
	assert.Equal(t, int32(1), calls.Load(), "budget bounds probe attempts")
}

func TestWarmupCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewProber("http://127.0.0.1:0", nil)
	err := p.Warmup(ctx, "https://cdn.example.com/ep1.mp4")
	assert.ErrorIs(t, err, context.Canceled)
}
