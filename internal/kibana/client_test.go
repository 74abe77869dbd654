package kibana

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iksnae/synthshot/internal"
	"github.com/iksnae/synthshot/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, f *testutil.FakeKibana) *Client {
	t.Helper()
	return NewClient(Options{BaseURL: f.URL() + "/", APIKey: "secret", Timeout: 5 * time.Second})
}

func TestClient_LatestRun(t *testing.T) {
	f := testutil.NewFakeKibana(t)
	started := time.Now().Add(-time.Minute).UTC().Truncate(time.Millisecond)
	f.AddRun("mon-1", "cg-1", 12_400_000, started)
	c := newTestClient(t, f)

	now := time.Now()
	run, err := c.LatestRun(context.Background(), "mon-1", now.Add(-5*time.Minute), now)
	require.NoError(t, err)
	assert.Equal(t, "cg-1", run.GroupingKey)
	assert.Equal(t, int64(12_400_000), run.DurationMicros)
	assert.True(t, run.StartedAt.Equal(started), "StartedAt = %v, want %v", run.StartedAt, started)

	reqs := f.Requests()
	require.Len(t, reqs, 1)
	q := reqs[0].Query
	assert.Equal(t, "mon-1", q.Get("monitorId"))
	assert.Equal(t, "desc", q.Get("sort"))
	assert.Equal(t, "1", q.Get("size"))
	assert.NotEmpty(t, q.Get("dateFrom"))
	assert.NotEmpty(t, q.Get("dateTo"))
	assert.Equal(t, "ApiKey secret", reqs[0].Header.Get("Authorization"))
	assert.Equal(t, "true", reqs[0].Header.Get("kbn-xsrf"))
}

func TestClient_LatestRun_NotFound(t *testing.T) {
	f := testutil.NewFakeKibana(t)
	f.AddRun("stale", "cg-old", 1, time.Now().Add(-time.Hour))
	c := newTestClient(t, f)
	now := time.Now()

	_, err := c.LatestRun(context.Background(), "unknown", now.Add(-5*time.Minute), now)
	assert.ErrorIs(t, err, internal.ErrNotFound)

	_, err = c.LatestRun(context.Background(), "stale", now.Add(-5*time.Minute), now)
	assert.ErrorIs(t, err, internal.ErrNotFound)
}

func TestClient_LatestRun_404IsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	c := NewClient(Options{BaseURL: srv.URL, APIKey: "k"})

	_, err := c.LatestRun(context.Background(), "m", time.Now().Add(-time.Minute), time.Now())
	assert.ErrorIs(t, err, internal.ErrNotFound)
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"bad key"}`))
	}))
	defer srv.Close()
	c := NewClient(Options{BaseURL: srv.URL, APIKey: "k"})

	_, err := c.Steps(context.Background(), "cg")
	var apiErr *internal.APIError
	require.True(t, errors.As(err, &apiErr), "error = %v", err)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Contains(t, apiErr.Body, "bad key")
	assert.NotErrorIs(t, err, internal.ErrNotFound)
}

func TestClient_Steps(t *testing.T) {
	f := testutil.NewFakeKibana(t)
	f.AddStep("cg-1", "open page", false)
	f.AddStep("cg-1", "click login", true)
	f.AddStep("cg-1", "submit", true)
	c := newTestClient(t, f)

	steps, err := c.Steps(context.Background(), "cg-1")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, internal.CaptureInline, steps[0].CaptureMode)
	assert.Equal(t, internal.CaptureTileReferenced, steps[1].CaptureMode)
	assert.Equal(t, "click login", steps[1].Name)
	assert.Equal(t, 3, steps[2].Index)
}

func TestClient_Steps_LogsInlineScreenshots(t *testing.T) {
	var logs bytes.Buffer
	internal.ConfigureLogger(&logs, "text")
	internal.SetLogLevel(internal.LogLevelDebug)
	t.Cleanup(func() {
		internal.ConfigureLogger(os.Stderr, "text")
		internal.SetLogLevel(internal.LogLevelInfo)
	})

	f := testutil.NewFakeKibana(t)
	f.AddStep("cg-1", "open page", false)
	f.AddStep("cg-1", "click login", true)
	c := newTestClient(t, f)

	_, err := c.Steps(context.Background(), "cg-1")
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "Step 1 of cg-1 has an inline screenshot")
	assert.NotContains(t, logs.String(), "Step 2 of cg-1")
}

func TestClient_TileReference(t *testing.T) {
	f := testutil.NewFakeKibana(t)
	f.SetLayout("cg-1", 2, 1280, 720,
		testutil.Block{Hash: "aa", Top: 0, Left: 0, Width: 640, Height: 360},
		testutil.Block{Hash: "bb", Top: 360, Left: 640, Width: 640, Height: 360},
	)
	c := newTestClient(t, f)

	ref, err := c.TileReference(context.Background(), "cg-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, ref.StepIndex)
	assert.Equal(t, 1280, ref.CanvasWidth)
	assert.Equal(t, 720, ref.CanvasHeight)
	require.Len(t, ref.Tiles, 2)
	assert.Equal(t, internal.TileDescriptor{Hash: "bb", Left: 640, Top: 360, Width: 640, Height: 360}, ref.Tiles[1])

	assert.Equal(t, 1, f.RequestCount("/internal/uptime/journey/screenshot/cg-1/2"))
}

func TestClient_TileContents(t *testing.T) {
	f := testutil.NewFakeKibana(t)
	png := testutil.SolidPNG(t, 2, 2, color.White)
	f.AddBlock("aa", png)
	c := newTestClient(t, f)

	payloads, err := c.TileContents(context.Background(), []string{"aa", "missing"})
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.Equal(t, "aa", payloads[0].Hash)
	assert.Equal(t, "image/png", payloads[0].MIME)
	assert.Equal(t, png, payloads[0].Data)

	assert.Equal(t, [][]string{{"aa", "missing"}}, f.BlockRequests())
}

func TestClient_TileContents_Empty(t *testing.T) {
	f := testutil.NewFakeKibana(t)
	c := newTestClient(t, f)

	payloads, err := c.TileContents(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, payloads)
	assert.Empty(t, f.Requests())
}

func TestClient_TileContents_InvalidBase64(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"aa","synthetics":{"blob":"%%%not-base64","blob_mime":"image/jpeg"}}]`))
	}))
	defer srv.Close()
	c := NewClient(Options{BaseURL: srv.URL, APIKey: "k"})

	payloads, err := c.TileContents(context.Background(), []string{"aa"})
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.Equal(t, []byte("%%%not-base64"), payloads[0].Data)
}

func TestClient_Status(t *testing.T) {
	f := testutil.NewFakeKibana(t)
	c := newTestClient(t, f)

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fake-kibana", st.Name)
	assert.Equal(t, "8.12.0", st.Version)
	assert.Equal(t, "available", st.Level)
}

func TestClient_RateLimit(t *testing.T) {
	f := testutil.NewFakeKibana(t)
	c := NewClient(Options{BaseURL: f.URL(), APIKey: "k", RateLimitRPS: 20, Burst: 1})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Status(context.Background())
		require.NoError(t, err)
	}
	// Two waits of 50ms after the first token.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestClient_ContextCancelled(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-r.Context().Done()
	}))
	defer srv.Close()
	c := NewClient(Options{BaseURL: srv.URL, APIKey: "k"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Steps(ctx, "cg")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReconstructorOverHTTP(t *testing.T) {
	f := testutil.NewFakeKibana(t)
	f.AddRun("mon-1", "cg-1", 5_000_000, time.Now().Add(-30*time.Second))
	f.AddStep("cg-1", "load", true)
	f.AddStep("cg-1", "inline", false)
	f.AddStep("cg-1", "click", true)
	f.AddStep("cg-1", "done", true)

	for _, h := range []string{"h1", "h2", "h3"} {
		f.AddBlock(h, testutil.SolidPNG(t, 4, 4, color.Black))
	}
	f.SetLayout("cg-1", 1, 8, 4, testutil.Block{Hash: "h1", Width: 4, Height: 4}, testutil.Block{Hash: "h2", Left: 4, Width: 4, Height: 4})
	f.SetLayout("cg-1", 3, 8, 4, testutil.Block{Hash: "h2", Width: 4, Height: 4}, testutil.Block{Hash: "h3", Left: 4, Width: 4, Height: 4})
	f.SetLayout("cg-1", 4, 8, 4, testutil.Block{Hash: "h1", Width: 4, Height: 4}, testutil.Block{Hash: "gone", Left: 4, Width: 4, Height: 4})
	f.DelayRef(1, 40*time.Millisecond)

	r := internal.NewReconstructor(newTestClient(t, f), internal.ReconstructorOptions{})
	rec, err := r.ReconstructRun(context.Background(), "mon-1")
	require.NoError(t, err)

	require.Len(t, rec.Steps, 3)
	assert.Equal(t, []int{1, 3, 4}, []int{rec.Steps[0].StepIndex, rec.Steps[1].StepIndex, rec.Steps[2].StepIndex})
	assert.True(t, rec.Steps[0].OK())
	assert.True(t, rec.Steps[1].OK())
	assert.Equal(t, "missing_tile_payload", internal.FailureKind(rec.Steps[2].Err))

	blocks := f.BlockRequests()
	require.Len(t, blocks, 1, "tile contents must be fetched in one batch")
	assert.Equal(t, []string{"gone", "h1", "h2", "h3"}, blocks[0])
}

func TestReconstructorOverHTTP_NotFound(t *testing.T) {
	f := testutil.NewFakeKibana(t)
	r := internal.NewReconstructor(newTestClient(t, f), internal.ReconstructorOptions{})

	_, err := r.ReconstructRun(context.Background(), "mon-x")
	assert.ErrorIs(t, err, internal.ErrNotFound)
	assert.Equal(t, 1, len(f.Requests()), "only the run lookup should be issued")
}
