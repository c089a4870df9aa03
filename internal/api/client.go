package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/banshee-data/survey.report/internal/httputil"
	"github.com/banshee-data/survey.report/internal/survey/storage/sqlite"
	"github.com/banshee-data/survey.report/internal/timeutil"
)

// Client talks to a running survey server.
type Client struct {
	BaseURL string
	HTTP    httputil.HTTPClient
	Clock   timeutil.Clock
}

// NewClient returns a client for baseURL using http.DefaultClient.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: http.DefaultClient, Clock: timeutil.RealClock{}}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, size int64, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if size >= 0 && body != nil {
		req.ContentLength = size
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := httputil.CheckResponse(resp); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// UploadScan uploads a point cloud. size may be -1 when unknown.
func (c *Client) UploadScan(ctx context.Context, filename string, r io.Reader, size int64) (*sqlite.Scan, error) {
	q := url.Values{"filename": {filename}}
	var sc sqlite.Scan
	if err := c.do(ctx, http.MethodPost, "/api/scans?"+q.Encode(), r, size, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// GetScan fetches one scan.
func (c *Client) GetScan(ctx context.Context, scanID string) (*sqlite.Scan, error) {
	var sc sqlite.Scan
	if err := c.do(ctx, http.MethodGet, "/api/scans/"+url.PathEscape(scanID), nil, -1, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// WaitProcessed polls until the scan is ready or failed.
func (c *Client) WaitProcessed(ctx context.Context, scanID string, every time.Duration) (*sqlite.Scan, error) {
	clock := c.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	t := clock.NewTicker(every)
	defer t.Stop()
	for {
		sc, err := c.GetScan(ctx, scanID)
		if err != nil {
			return nil, err
		}
		if !sc.Status.Active() {
			return sc, nil
		}
		select {
		case <-ctx.Done():
			return sc, ctx.Err()
		case <-t.C():
		}
	}
}

// ListFloors returns the scan's floors.
func (c *Client) ListFloors(ctx context.Context, scanID string) ([]*sqlite.Floor, error) {
	var out struct {
		Floors []*sqlite.Floor `json:"floors"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/scans/"+url.PathEscape(scanID)+"/floors", nil, -1, &out); err != nil {
		return nil, err
	}
	return out.Floors, nil
}

// ExportPlan asks the server to render a plan for a floor.
func (c *Client) ExportPlan(ctx context.Context, floorID string, req PlanRequest) (*sqlite.Plan, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var p sqlite.Plan
	if err := c.do(ctx, http.MethodPost, "/api/floors/"+url.PathEscape(floorID)+"/plans",
		bytes.NewReader(body), int64(len(body)), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DownloadPlan writes the plan document to w.
func (c *Client) DownloadPlan(ctx context.Context, planID string, w io.Writer) (int64, error) {
	path := "/api/plans/" + url.PathEscape(planID) + "/download"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := httputil.CheckResponse(resp); err != nil {
		return 0, fmt.Errorf("GET %s: %w", path, err)
	}
	return io.Copy(w, resp.Body)
}
