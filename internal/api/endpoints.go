package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	sharedErrors "github.com/javi11/mediajanitor/internal/errors"
	"github.com/javi11/mediajanitor/internal/model"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidPlanID is returned for unset plan ids.
var ErrInvalidPlanID = fmt.Errorf("invalid plan id")

func planPath(id model.PlanID, suffix string) (string, error) {
	if id.IsUnset() {
		return "", ErrInvalidPlanID
	}
	return "/plan/" + url.PathEscape(id.String()) + suffix, nil
}

// StartScan asks the server to start a scan.
func (c *Client) StartScan(ctx context.Context) (model.ScanStartResult, error) {
	var result model.ScanStartResult
	if err := c.do(ctx, "start scan", http.MethodPost, "/scan", nil, &result, c.timeout); err != nil {
		return model.ScanStartResult{}, err
	}
	return result, nil
}

// ScanStatus polls the state of a running scan. A nil event with a nil error
// means the server has nothing to report for that id.
func (c *Client) ScanStatus(ctx context.Context, scanID string) (*model.ScanEvent, error) {
	if scanID == "" {
		return nil, fmt.Errorf("scan id cannot be empty")
	}

	var event model.ScanEvent
	err := c.get(ctx, "scan status", "/scan/"+url.PathEscape(scanID), &event)
	if sharedErrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// GetPlan fetches a plan with all of its items.
func (c *Client) GetPlan(ctx context.Context, id model.PlanID) (*model.Plan, error) {
	path, err := planPath(id, "")
	if err != nil {
		return nil, err
	}

	var plan model.Plan
	if err := c.get(ctx, "get plan", path, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// UpdateItems sets the selection of individual items.
func (c *Client) UpdateItems(ctx context.Context, id model.PlanID, updates []model.SelectionUpdate) error {
	path, err := planPath(id, "/items")
	if err != nil {
		return err
	}
	if updates == nil {
		updates = []model.SelectionUpdate{}
	}

	body := model.UpdateItemsRequest{Items: updates}
	return c.do(ctx, "update items", http.MethodPatch, path, body, nil, c.timeout)
}

// SetAllSelected sets the selection of every item of the plan in one request.
func (c *Client) SetAllSelected(ctx context.Context, id model.PlanID, selected bool) error {
	path, err := planPath(id, "/items")
	if err != nil {
		return err
	}

	body := model.UpdateItemsRequest{Items: []model.SelectionUpdate{}, SelectAll: &selected}
	return c.do(ctx, "select all", http.MethodPatch, path, body, nil, c.timeout)
}

// ApplyPlan submits the plan for execution. The server only deletes selected items.
func (c *Client) ApplyPlan(ctx context.Context, id model.PlanID, confirmPhrase string) (model.ApplyResult, error) {
	path, err := planPath(id, "/apply")
	if err != nil {
		return model.ApplyResult{}, err
	}

	body := map[string]any{"confirm_phrase": nil}
	if confirmPhrase != "" {
		body["confirm_phrase"] = confirmPhrase
	}

	var result model.ApplyResult
	if err := c.do(ctx, "apply plan", http.MethodPost, path, body, &result, c.applyTimeout); err != nil {
		return model.ApplyResult{}, err
	}
	return result, nil
}

// GetRun fetches a run. Finished runs are served from cache.
func (c *Client) GetRun(ctx context.Context, runID int64) (model.Run, error) {
	if run, ok := c.runs.Get(runID); ok {
		return run, nil
	}

	var run model.Run
	if err := c.get(ctx, "get run", "/runs/"+strconv.FormatInt(runID, 10), &run); err != nil {
		return model.Run{}, err
	}

	if run.IsFinished() {
		c.runs.Add(runID, run)
	}
	return run, nil
}

// GetRunLogs fetches the per-item outcome of a run.
func (c *Client) GetRunLogs(ctx context.Context, runID int64) ([]model.RunLog, error) {
	var resp struct {
		Logs []model.RunLog `json:"logs"`
	}
	if err := c.get(ctx, "get run logs", "/runs/"+strconv.FormatInt(runID, 10)+"/logs", &resp); err != nil {
		return nil, err
	}
	return resp.Logs, nil
}

// RunDetails is a run together with its item logs.
type RunDetails struct {
	Run  model.Run
	Logs []model.RunLog
}

// GetRunDetails fetches a run and its logs concurrently.
func (c *Client) GetRunDetails(ctx context.Context, runID int64) (RunDetails, error) {
	var details RunDetails

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		run, err := c.GetRun(gctx, runID)
		details.Run = run
		return err
	})
	g.Go(func() error {
		logs, err := c.GetRunLogs(gctx, runID)
		details.Logs = logs
		return err
	})

	if err := g.Wait(); err != nil {
		return RunDetails{}, err
	}
	return details, nil
}

// Protect excludes a media from future plans.
func (c *Client) Protect(ctx context.Context, req model.ProtectRequest) error {
	if req.MediaType == "" {
		return fmt.Errorf("media type cannot be empty")
	}
	return c.do(ctx, "protect", http.MethodPost, "/protect", req, nil, c.timeout)
}

// Diagnostics reports the server's connectivity to its upstream services.
func (c *Client) Diagnostics(ctx context.Context) (model.Diagnostics, error) {
	var diag model.Diagnostics
	if err := c.get(ctx, "diagnostics", "/diagnostics", &diag); err != nil {
		return nil, err
	}
	return diag, nil
}

// GetConfig fetches the server configuration. Concurrent callers share one
// request; a caller that gives up does not cancel it for the others.
func (c *Client) GetConfig(ctx context.Context) (model.ServerConfig, error) {
	shared := context.WithoutCancel(ctx)
	ch := c.configGroup.DoChan("config", func() (any, error) {
		var cfg model.ServerConfig
		if err := c.get(shared, "get config", "/config", &cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	})

	select {
	case <-ctx.Done():
		return model.ServerConfig{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return model.ServerConfig{}, res.Err
		}
		return res.Val.(model.ServerConfig), nil
	}
}

// RequiredConfirmPhrase returns the phrase needed to apply plans, or "" when
// none is required.
func (c *Client) RequiredConfirmPhrase(ctx context.Context) (string, error) {
	cfg, err := c.GetConfig(ctx)
	if err != nil {
		return "", err
	}
	return cfg.App.RequireConfirmPhrase, nil
}
