package testutil

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"
)

// Block places a tile on a fake screenshot layout
type Block struct {
	Hash   string `json:"hash"`
	Top    int    `json:"top"`
	Left   int    `json:"left"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// RecordedRequest is a request seen by FakeKibana
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
}

type fakeRun struct {
	checkGroup string
	durationUS int64
	timestamp  time.Time
}

type fakeStep struct {
	Name          string
	ScreenshotRef bool
}

type fakeLayout struct {
	Width  int
	Height int
	Blocks []Block
}

type fakeBlock struct {
	data []byte
	mime string
}

type fakePackagePolicy struct {
	ID      string
	Name    string
	Package string
}

// FakeKibana is an httptest server speaking the subset of the Kibana uptime API
// used by synthshot
type FakeKibana struct {
	Server *httptest.Server

	mu            sync.Mutex
	runs          map[string]fakeRun
	journeys      map[string][]fakeStep
	layouts       map[string]map[int]fakeLayout
	blocks        map[string]fakeBlock
	refDelays     map[int]time.Duration
	refFailures   map[int]int
	blockStatus   int
	policies      map[string][]fakePackagePolicy
	service       [][2]string
	statuses      map[string]string
	blockRequests [][]string
	requests      []RecordedRequest
}

// NewFakeKibana starts a FakeKibana closed on test cleanup
func NewFakeKibana(t *testing.T) *FakeKibana {
	t.Helper()
	f := &FakeKibana{
		runs:        make(map[string]fakeRun),
		journeys:    make(map[string][]fakeStep),
		layouts:     make(map[string]map[int]fakeLayout),
		blocks:      make(map[string]fakeBlock),
		refDelays:   make(map[int]time.Duration),
		refFailures: make(map[int]int),
		policies:    make(map[string][]fakePackagePolicy),
		statuses:    make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /internal/uptime/pings", f.handlePings)
	mux.HandleFunc("GET /internal/uptime/journey/{checkGroup}", f.handleJourney)
	mux.HandleFunc("GET /internal/uptime/journey/screenshot/{checkGroup}/{stepIndex}", f.handleScreenshotRef)
	mux.HandleFunc("POST /internal/uptime/journey/screenshot/block", f.handleBlocks)
	mux.HandleFunc("GET /api/status", f.handleStatus)
	mux.HandleFunc("GET /api/fleet/agent_policies", f.handlePolicies)
	mux.HandleFunc("GET /api/fleet/agent_policies/{id}", f.handlePolicy)
	mux.HandleFunc("GET /internal/uptime/service/monitors", f.handleServiceMonitors)
	mux.HandleFunc("GET /internal/uptime/monitor/list", f.handleMonitorList)

	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
		})
		f.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the server base URL
func (f *FakeKibana) URL() string {
	return f.Server.URL
}

// AddRun registers the latest run of a monitor
func (f *FakeKibana) AddRun(monitorID, checkGroup string, durationUS int64, timestamp time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[monitorID] = fakeRun{checkGroup: checkGroup, durationUS: durationUS, timestamp: timestamp}
}

// AddStep appends a step to a run's journey. Steps are indexed 1.. in insertion order.
func (f *FakeKibana) AddStep(checkGroup, name string, screenshotRef bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.journeys[checkGroup] = append(f.journeys[checkGroup], fakeStep{Name: name, ScreenshotRef: screenshotRef})
}

// SetLayout sets the tile layout of a step
func (f *FakeKibana) SetLayout(checkGroup string, stepIndex, width, height int, blocks ...Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.layouts[checkGroup] == nil {
		f.layouts[checkGroup] = make(map[int]fakeLayout)
	}
	f.layouts[checkGroup][stepIndex] = fakeLayout{Width: width, Height: height, Blocks: blocks}
}

// AddBlock stores tile content under hash
func (f *FakeKibana) AddBlock(hash string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks[hash] = fakeBlock{data: data, mime: "image/png"}
}

// DelayRef delays the layout response of a step
func (f *FakeKibana) DelayRef(stepIndex int, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refDelays[stepIndex] = d
}

// FailRef makes the layout request of a step fail with status
func (f *FakeKibana) FailRef(stepIndex, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refFailures[stepIndex] = status
}

// FailBlocks makes the batched block request fail with status
func (f *FakeKibana) FailBlocks(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockStatus = status
}

// AddFleetPolicy registers an agent policy with its package policies as
// (id, name, package) triples
func (f *FakeKibana) AddFleetPolicy(policyID string, packagePolicies ...[3]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pp := range packagePolicies {
		f.policies[policyID] = append(f.policies[policyID], fakePackagePolicy{ID: pp[0], Name: pp[1], Package: pp[2]})
	}
	if len(packagePolicies) == 0 {
		f.policies[policyID] = nil
	}
}

// AddServiceMonitor registers a service-managed monitor
func (f *FakeKibana) AddServiceMonitor(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.service = append(f.service, [2]string{id, name})
}

// SetMonitorStatus sets the summary status of a monitor
func (f *FakeKibana) SetMonitorStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
}

// BlockRequests returns the hash lists of every block request received
func (f *FakeKibana) BlockRequests() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.blockRequests))
	copy(out, f.blockRequests)
	return out
}

// Requests returns every request received
func (f *FakeKibana) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RecordedRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// RequestCount returns how many requests hit path
func (f *FakeKibana) RequestCount(path string) int {
	n := 0
	for _, r := range f.Requests() {
		if r.Path == path {
			n++
		}
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *FakeKibana) handlePings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, errFrom := time.Parse(time.RFC3339, q.Get("dateFrom"))
	to, errTo := time.Parse(time.RFC3339, q.Get("dateTo"))
	if errFrom != nil || errTo != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid date range"})
		return
	}

	f.mu.Lock()
	run, ok := f.runs[q.Get("monitorId")]
	f.mu.Unlock()

	pings := []interface{}{}
	// The window is second-granular on the wire.
	if ok && !run.timestamp.Before(from) && !run.timestamp.After(to.Add(time.Second)) {
		pings = append(pings, map[string]interface{}{
			"timestamp": run.timestamp.UTC().Format(time.RFC3339Nano),
			"monitor": map[string]interface{}{
				"id":          q.Get("monitorId"),
				"check_group": run.checkGroup,
				"duration":    map[string]int64{"us": run.durationUS},
			},
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"total": len(pings), "pings": pings})
}

func (f *FakeKibana) handleJourney(w http.ResponseWriter, r *http.Request) {
	checkGroup := r.PathValue("checkGroup")

	f.mu.Lock()
	steps, ok := f.journeys[checkGroup]
	f.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "journey not found"})
		return
	}

	out := make([]interface{}, 0, len(steps))
	for i, s := range steps {
		out = append(out, map[string]interface{}{
			"synthetics": map[string]interface{}{
				"step":             map[string]interface{}{"index": i + 1, "name": s.Name},
				"isScreenshotRef":  s.ScreenshotRef,
				"isFullScreenshot": !s.ScreenshotRef,
			},
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"checkGroup": checkGroup, "steps": out})
}

func (f *FakeKibana) handleScreenshotRef(w http.ResponseWriter, r *http.Request) {
	checkGroup := r.PathValue("checkGroup")
	stepIndex, err := strconv.Atoi(r.PathValue("stepIndex"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid step index"})
		return
	}

	f.mu.Lock()
	delay := f.refDelays[stepIndex]
	failure := f.refFailures[stepIndex]
	layout, ok := f.layouts[checkGroup][stepIndex]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if failure != 0 {
		writeJSON(w, failure, map[string]string{"message": "injected failure"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "screenshot ref not found"})
		return
	}

	blocks := layout.Blocks
	if blocks == nil {
		blocks = []Block{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ref": map[string]interface{}{
			"screenshotRef": map[string]interface{}{
				"screenshot_ref": map[string]interface{}{
					"width":  layout.Width,
					"height": layout.Height,
					"blocks": blocks,
				},
			},
		},
	})
}

func (f *FakeKibana) handleBlocks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hashes []string `json:"hashes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}

	f.mu.Lock()
	f.blockRequests = append(f.blockRequests, req.Hashes)
	status := f.blockStatus
	var out []interface{}
	for _, h := range req.Hashes {
		b, ok := f.blocks[h]
		if !ok {
			continue
		}
		out = append(out, map[string]interface{}{
			"id": h,
			"synthetics": map[string]string{
				"blob":      base64.StdEncoding.EncodeToString(b.data),
				"blob_mime": b.mime,
			},
		})
	}
	f.mu.Unlock()

	if status != 0 {
		writeJSON(w, status, map[string]string{"message": "injected failure"})
		return
	}
	if out == nil {
		out = []interface{}{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeKibana) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    "fake-kibana",
		"version": map[string]string{"number": "8.12.0"},
		"status": map[string]interface{}{
			"overall": map[string]string{"level": "available"},
		},
	})
}

func (f *FakeKibana) handlePolicies(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	ids := make([]string, 0, len(f.policies))
	for id := range f.policies {
		ids = append(ids, id)
	}
	f.mu.Unlock()
	sort.Strings(ids)

	items := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		items = append(items, map[string]string{"id": id})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items, "total": len(items)})
}

func (f *FakeKibana) handlePolicy(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	pps, ok := f.policies[r.PathValue("id")]
	f.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "policy not found"})
		return
	}

	out := make([]interface{}, 0, len(pps))
	for _, pp := range pps {
		out = append(out, map[string]interface{}{
			"id":      pp.ID,
			"name":    pp.Name,
			"package": map[string]string{"name": pp.Package},
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"item": map[string]interface{}{"package_policies": out},
	})
}

func (f *FakeKibana) handleServiceMonitors(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	monitors := make([]interface{}, 0, len(f.service))
	for _, m := range f.service {
		monitors = append(monitors, map[string]interface{}{
			"id":         m[0],
			"attributes": map[string]string{"name": m[1]},
		})
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"monitors": monitors})
}

func (f *FakeKibana) handleMonitorList(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	summaries := make([]interface{}, 0, len(f.statuses))
	for id, status := range f.statuses {
		summaries = append(summaries, map[string]interface{}{
			"monitor_id": id,
			"state": map[string]interface{}{
				"summary": map[string]string{"status": status},
			},
		})
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"summaries": summaries})
}
