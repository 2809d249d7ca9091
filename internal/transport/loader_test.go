// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/yutupremsatu/dracinbox/internal/canonical"
	"github.com/yutupremsatu/dracinbox/internal/delivery"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type loaderEvents struct {
	ready   chan struct{}
	fatal   chan Kind
	reloads atomic.Int64
}

func newLoaderEvents() *loaderEvents {
	return &loaderEvents{ready: make(chan struct{}, 1), fatal: make(chan Kind, 1)}
}

func (e *loaderEvents) hooks() Hooks {
	return Hooks{
		OnReady: func() {
			select {
			case e.ready <- struct{}{}:
			default:
			}
		},
		OnFatal: func(k Kind, _ error) {
			select {
			case e.fatal <- k:
			default:
			}
		},
		OnReload: func(string) { e.reloads.Add(1) },
	}
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func target(u string) delivery.Target {
	return delivery.Target{
		EpisodeID:   "ep-1",
		Variant:     canonical.VideoVariant{URL: u, QualityRank: 720},
		Mode:        delivery.ModeDirect,
		ResolvedURL: u,
	}
}

func TestLoadHLSFetchesAllSegments(t *testing.T) {
	var mu sync.Mutex
	paths := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths[r.URL.Path]++
		mu.Unlock()
		switch r.URL.Path {
		case "/index.m3u8":
			_, _ = w.Write([]byte(mediaPlaylist))
		default:
			_, _ = w.Write([]byte("segment-bytes"))
		}
	}))
	defer srv.Close()

	events := newLoaderEvents()
	l := NewLoader(Config{HTTPClient: srv.Client(), sleep: noSleep}, events.hooks())
	defer l.Teardown()

	l.Load(context.Background(), target(srv.URL+"/index.m3u8"))

	select {
	case <-events.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("OnReady never fired")
	}
	l.Teardown()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, paths["/index.m3u8"])
	// VOD playlist: every listed segment fetched exactly once, then done.
	assert.Equal(t, 1, paths["/seg-0.ts"])
	assert.Equal(t, 1, paths["/seg-1.ts"])
	assert.Equal(t, 1, paths["/seg-2.ts"])
}

func TestLoadMasterIndirection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/master.m3u8":
			_, _ = w.Write([]byte(masterPlaylist))
		case "/720/index.m3u8":
			_, _ = w.Write([]byte("#EXTM3U\n#EXTINF:4.0,\nseg-0.ts\n#EXT-X-ENDLIST\n"))
		case "/720/seg-0.ts":
			_, _ = w.Write([]byte("segment-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	events := newLoaderEvents()
	l := NewLoader(Config{HTTPClient: srv.Client(), sleep: noSleep}, events.hooks())
	defer l.Teardown()

	l.Load(context.Background(), target(srv.URL+"/master.m3u8"))

	select {
	case <-events.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("OnReady never fired for master playlist")
	}
}

func TestLoadProgressiveProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://www.flickreels.com/", r.Header.Get("Referer"))
		_, _ = w.Write([]byte("mp4-bytes"))
	}))
	defer srv.Close()

	events := newLoaderEvents()
	l := NewLoader(Config{HTTPClient: srv.Client(), sleep: noSleep}, events.hooks())
	defer l.Teardown()

	tgt := target(srv.URL + "/video.mp4")
	tgt.Headers = map[string]string{"Referer": "https://www.flickreels.com/"}
	l.Load(context.Background(), tgt)

	select {
	case <-events.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("OnReady never fired for progressive target")
	}
}

func TestManifestRetryBudgetThenFatal(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	events := newLoaderEvents()
	l := NewLoader(Config{HTTPClient: srv.Client(), MaxRetries: 3, sleep: noSleep}, events.hooks())
	defer l.Teardown()

	l.Load(context.Background(), target(srv.URL+"/index.m3u8"))

	select {
	case kind := <-events.fatal:
		assert.Equal(t, KindNetwork, kind)
	case <-time.After(2 * time.Second):
		t.Fatal("OnFatal never fired")
	}
	assert.EqualValues(t, 3, hits.Load(), "exactly the retry budget, no more")
}

func TestGarbageManifestIsMediaFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>origin error page</html>"))
	}))
	defer srv.Close()

	events := newLoaderEvents()
	l := NewLoader(Config{HTTPClient: srv.Client(), sleep: noSleep}, events.hooks())
	defer l.Teardown()

	l.Load(context.Background(), target(srv.URL+"/index.m3u8"))

	select {
	case kind := <-events.fatal:
		assert.Equal(t, KindMedia, kind)
	case <-time.After(2 * time.Second):
		t.Fatal("OnFatal never fired")
	}
}

func TestTeardownAbortsWithoutFatal(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	events := newLoaderEvents()
	l := NewLoader(Config{HTTPClient: srv.Client(), sleep: noSleep}, events.hooks())

	l.Load(context.Background(), target(srv.URL+"/index.m3u8"))
	<-started
	l.Teardown()

	select {
	case k := <-events.fatal:
		t.Fatalf("teardown must not surface a fatal, got %s", k)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLoadReplacesInFlightLoad(t *testing.T) {
	var mu sync.Mutex
	paths := []string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/b.m3u8" {
			_, _ = w.Write([]byte("#EXTM3U\n#EXTINF:1.0,\nseg.ts\n#EXT-X-ENDLIST\n"))
			return
		}
		_, _ = w.Write([]byte("bytes"))
	}))
	defer srv.Close()

	events := newLoaderEvents()
	l := NewLoader(Config{HTTPClient: srv.Client(), sleep: noSleep}, events.hooks())
	defer l.Teardown()

	l.Load(context.Background(), target(srv.URL+"/a.mp4"))
	l.Load(context.Background(), target(srv.URL+"/b.m3u8"))

	select {
	case <-events.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("second load never became ready")
	}
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, KindNetwork, ClassifyError(&statusError{status: 502}))
	assert.Equal(t, KindNetwork, ClassifyError(errors.New("connection refused")))
	assert.Equal(t, KindMedia, ClassifyError(errors.New("media playlist without segments")))
	assert.Equal(t, KindNetwork, ClassifyError(context.DeadlineExceeded))
}

func TestFatalErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	fe := &FatalError{Stage: "segment", Kind: KindNetwork, Cause: cause}
	require.ErrorIs(t, fe, cause)
	assert.Contains(t, fe.Error(), "segment")
}
