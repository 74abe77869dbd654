package kibana

import (
	"context"
	"net/http"
	"net/url"
	"sort"

	"golang.org/x/sync/errgroup"
)

const (
	agentPoliciesPath   = "/api/fleet/agent_policies"
	serviceMonitorsPath = "/internal/uptime/service/monitors"
	monitorListPath     = "/internal/uptime/monitor/list"

	syntheticsPackage = "synthetics"
	policyFetchLimit  = 4
)

// Monitor types
const (
	MonitorTypeFleet   = "fleet"
	MonitorTypeService = "service"
)

// Monitor is a synthetics monitor managed either by Fleet or by the service
type Monitor struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Type   string `json:"type" yaml:"type"`
	Status string `json:"status" yaml:"status"` // up | down | unknown
}

type agentPoliciesResponse struct {
	Items []struct {
		ID string `json:"id"`
	} `json:"items"`
}

type agentPolicyResponse struct {
	Item struct {
		PackagePolicies []struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Package struct {
				Name string `json:"name"`
			} `json:"package"`
		} `json:"package_policies"`
	} `json:"item"`
}

type serviceMonitorsResponse struct {
	Monitors []struct {
		ID         string `json:"id"`
		Attributes struct {
			Name string `json:"name"`
		} `json:"attributes"`
	} `json:"monitors"`
}

type monitorSummariesResponse struct {
	Summaries []struct {
		MonitorID string `json:"monitor_id"`
		State     struct {
			Summary *struct {
				Status string `json:"status"`
			} `json:"summary"`
		} `json:"state"`
	} `json:"summaries"`
}

// ListMonitors returns Fleet and service monitors joined with their latest status,
// sorted by name.
func (c *Client) ListMonitors(ctx context.Context) ([]Monitor, error) {
	var (
		statuses map[string]string
		fleet    []Monitor
		service  []Monitor
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		statuses, err = c.monitorStatuses(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		fleet, err = c.fleetMonitors(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		service, err = c.serviceMonitors(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	monitors := make([]Monitor, 0, len(fleet)+len(service))
	monitors = append(monitors, fleet...)
	monitors = append(monitors, service...)
	for i := range monitors {
		monitors[i].Status = "unknown"
		if status, ok := statuses[monitors[i].ID]; ok && status != "" {
			monitors[i].Status = status
		}
	}

	sort.SliceStable(monitors, func(i, j int) bool {
		return monitors[i].Name < monitors[j].Name
	})
	return monitors, nil
}

func (c *Client) monitorStatuses(ctx context.Context) (map[string]string, error) {
	var out monitorSummariesResponse
	if err := c.do(ctx, http.MethodGet, monitorListPath, nil, nil, &out); err != nil {
		return nil, err
	}
	statuses := make(map[string]string, len(out.Summaries))
	for _, s := range out.Summaries {
		if s.State.Summary != nil {
			statuses[s.MonitorID] = s.State.Summary.Status
		}
	}
	return statuses, nil
}

func (c *Client) fleetMonitors(ctx context.Context) ([]Monitor, error) {
	var policies agentPoliciesResponse
	query := url.Values{"perPage": []string{"100"}}
	if err := c.do(ctx, http.MethodGet, agentPoliciesPath, query, nil, &policies); err != nil {
		return nil, err
	}

	perPolicy := make([][]Monitor, len(policies.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(policyFetchLimit)
	for i, policy := range policies.Items {
		g.Go(func() error {
			var out agentPolicyResponse
			if err := c.do(gctx, http.MethodGet, agentPoliciesPath+"/"+url.PathEscape(policy.ID), nil, nil, &out); err != nil {
				return err
			}
			for _, pp := range out.Item.PackagePolicies {
				if pp.Package.Name != syntheticsPackage {
					continue
				}
				perPolicy[i] = append(perPolicy[i], Monitor{ID: pp.ID, Name: pp.Name, Type: MonitorTypeFleet})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var monitors []Monitor
	for _, m := range perPolicy {
		monitors = append(monitors, m...)
	}
	return monitors, nil
}

func (c *Client) serviceMonitors(ctx context.Context) ([]Monitor, error) {
	var out serviceMonitorsResponse
	if err := c.do(ctx, http.MethodGet, serviceMonitorsPath, nil, nil, &out); err != nil {
		return nil, err
	}
	monitors := make([]Monitor, 0, len(out.Monitors))
	for _, m := range out.Monitors {
		monitors = append(monitors, Monitor{ID: m.ID, Name: m.Attributes.Name, Type: MonitorTypeService})
	}
	return monitors, nil
}
