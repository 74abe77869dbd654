// Package kibana implements the monitoring API collaborators over HTTP.
package kibana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/iksnae/synthshot/internal"
	"golang.org/x/time/rate"
)

const (
	pingsPath         = "/internal/uptime/pings"
	journeyPath       = "/internal/uptime/journey/"
	screenshotRefPath = "/internal/uptime/journey/screenshot/"
	blockPath         = "/internal/uptime/journey/screenshot/block"
	statusPath        = "/api/status"
)

// Options configures a Client
type Options struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	RateLimitRPS float64 // 0 disables the limiter
	Burst        int
	HTTPClient   *http.Client
}

// Client talks to a Kibana instance with the Uptime/Synthetics APIs
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
}

var _ internal.MonitoringAPI = (*Client)(nil)

// NewClient creates a Client. Every request carries the API key and waits on the
// rate limiter when one is configured.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var hc *resty.Client
	if opts.HTTPClient != nil {
		hc = resty.NewWithClient(opts.HTTPClient)
	} else {
		hc = resty.New()
	}
	hc.SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("kbn-xsrf", "true")
	if opts.APIKey != "" {
		hc.SetHeader("Authorization", "ApiKey "+opts.APIKey)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimitRPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), burst)
	}

	c := &Client{http: hc, limiter: limiter}
	hc.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		return c.limiter.Wait(r.Context())
	})
	return c
}

// NewClientFromConfig creates a Client from the loaded configuration
func NewClientFromConfig(cfg *internal.Config) *Client {
	return NewClient(Options{
		BaseURL:      cfg.Kibana.URL,
		APIKey:       cfg.Kibana.APIKey,
		Timeout:      cfg.Kibana.Timeout,
		RateLimitRPS: cfg.Kibana.RateLimitRPS,
		Burst:        cfg.Kibana.Burst,
	})
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	req := c.http.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return &internal.APIError{
			Method: method,
			Path:   path,
			Status: resp.StatusCode(),
			Body:   resp.String(),
		}
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s %s: failed to parse response: %w", method, path, err)
	}
	return nil
}

type pingsResponse struct {
	Total int    `json:"total"`
	Pings []ping `json:"pings"`
}

type ping struct {
	Timestamp time.Time `json:"timestamp"`
	Monitor   struct {
		ID         string `json:"id"`
		CheckGroup string `json:"check_group"`
		Duration   struct {
			US int64 `json:"us"`
		} `json:"duration"`
	} `json:"monitor"`
}

// LatestRun returns the newest ping for the monitor in [from, to]
func (c *Client) LatestRun(ctx context.Context, monitorID string, from, to time.Time) (*internal.Run, error) {
	query := url.Values{}
	query.Set("monitorId", monitorID)
	query.Set("dateFrom", from.UTC().Format(time.RFC3339))
	query.Set("dateTo", to.UTC().Format(time.RFC3339))
	query.Set("sort", "desc")
	query.Set("size", "1")

	var out pingsResponse
	if err := c.do(ctx, http.MethodGet, pingsPath, query, nil, &out); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, internal.ErrNotFound
		}
		return nil, err
	}
	if len(out.Pings) == 0 || out.Pings[0].Monitor.CheckGroup == "" {
		return nil, internal.ErrNotFound
	}

	p := out.Pings[0]
	return &internal.Run{
		GroupingKey:    p.Monitor.CheckGroup,
		DurationMicros: p.Monitor.Duration.US,
		StartedAt:      p.Timestamp,
	}, nil
}

type journeyResponse struct {
	CheckGroup string        `json:"checkGroup"`
	Steps      []journeyStep `json:"steps"`
}

type journeyStep struct {
	Synthetics struct {
		Step *struct {
			Index int    `json:"index"`
			Name  string `json:"name"`
		} `json:"step"`
		IsScreenshotRef  bool `json:"isScreenshotRef"`
		IsFullScreenshot bool `json:"isFullScreenshot"`
	} `json:"synthetics"`
}

// Steps returns the run's steps in the order the service reports them
func (c *Client) Steps(ctx context.Context, groupingKey string) ([]internal.Step, error) {
	var out journeyResponse
	if err := c.do(ctx, http.MethodGet, journeyPath+url.PathEscape(groupingKey), nil, nil, &out); err != nil {
		return nil, err
	}

	steps := make([]internal.Step, 0, len(out.Steps))
	for pos, s := range out.Steps {
		step := internal.Step{Index: pos + 1, CaptureMode: internal.CaptureInline}
		if s.Synthetics.Step != nil {
			step.Index = s.Synthetics.Step.Index
			step.Name = s.Synthetics.Step.Name
		}
		switch {
		case s.Synthetics.IsScreenshotRef:
			step.CaptureMode = internal.CaptureTileReferenced
		case s.Synthetics.IsFullScreenshot:
			internal.LogDebug("Step %d of %s has an inline screenshot, skipping", step.Index, groupingKey)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

type screenshotRefResponse struct {
	Ref struct {
		ScreenshotRef struct {
			ScreenshotRef struct {
				Width  int          `json:"width"`
				Height int          `json:"height"`
				Blocks []blockLayout `json:"blocks"`
			} `json:"screenshot_ref"`
		} `json:"screenshotRef"`
	} `json:"ref"`
}

type blockLayout struct {
	Hash   string `json:"hash"`
	Top    int    `json:"top"`
	Left   int    `json:"left"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// TileReference returns the tile layout of one step. stepIndex is the 1-based
// screenshot index.
func (c *Client) TileReference(ctx context.Context, groupingKey string, stepIndex int) (*internal.TileReference, error) {
	path := screenshotRefPath + url.PathEscape(groupingKey) + "/" + strconv.Itoa(stepIndex)

	var out screenshotRefResponse
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}

	layout := out.Ref.ScreenshotRef.ScreenshotRef
	ref := &internal.TileReference{
		StepIndex:    stepIndex,
		CanvasWidth:  layout.Width,
		CanvasHeight: layout.Height,
		Tiles:        make([]internal.TileDescriptor, 0, len(layout.Blocks)),
	}
	for _, b := range layout.Blocks {
		ref.Tiles = append(ref.Tiles, internal.TileDescriptor{
			Hash:   b.Hash,
			Left:   b.Left,
			Top:    b.Top,
			Width:  b.Width,
			Height: b.Height,
		})
	}
	return ref, nil
}

type blockRequest struct {
	Hashes []string `json:"hashes"`
}

type blockResponse struct {
	ID         string `json:"id"`
	Synthetics struct {
		Blob     string `json:"blob"`
		BlobMime string `json:"blob_mime"`
	} `json:"synthetics"`
}

// TileContents fetches the payloads of all hashes in a single request
func (c *Client) TileContents(ctx context.Context, hashes []string) ([]internal.TilePayload, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	var out []blockResponse
	if err := c.do(ctx, http.MethodPost, blockPath, nil, blockRequest{Hashes: hashes}, &out); err != nil {
		return nil, err
	}

	payloads := make([]internal.TilePayload, 0, len(out))
	for _, b := range out {
		data, err := base64.StdEncoding.DecodeString(b.Synthetics.Blob)
		if err != nil {
			// Left undecoded so the compositor reports it against the tile.
			internal.LogWarn("Tile %s has an invalid base64 blob: %v", b.ID, err)
			data = []byte(b.Synthetics.Blob)
		}
		payloads = append(payloads, internal.TilePayload{
			Hash: b.ID,
			MIME: b.Synthetics.BlobMime,
			Data: data,
		})
	}
	return payloads, nil
}

// Status describes the remote instance
type Status struct {
	Name    string
	Version string
	Level   string
}

type statusResponse struct {
	Name    string `json:"name"`
	Version struct {
		Number string `json:"number"`
	} `json:"version"`
	Status struct {
		Overall struct {
			Level string `json:"level"`
			State string `json:"state"`
		} `json:"overall"`
	} `json:"status"`
}

// Status returns the instance status. It also verifies the API key.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out statusResponse
	if err := c.do(ctx, http.MethodGet, statusPath, nil, nil, &out); err != nil {
		return nil, err
	}
	level := out.Status.Overall.Level
	if level == "" {
		level = out.Status.Overall.State
	}
	return &Status{Name: out.Name, Version: out.Version.Number, Level: level}, nil
}

func isStatus(err error, status int) bool {
	var apiErr *internal.APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
