package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/iksnae/synthshot/internal/kibana"
	"github.com/iksnae/synthshot/testutil"
)

func TestMonitorsCommand(t *testing.T) {
	isolateHome(t)
	fake := testutil.NewFakeKibana(t)
	fake.AddFleetPolicy("policy-1",
		[3]string{"fleet-1", "Checkout flow", "synthetics"},
		[3]string{"sys-1", "System metrics", "system"})
	fake.AddServiceMonitor("svc-1", "Login page")
	fake.SetMonitorStatus("fleet-1", "up")
	fake.SetMonitorStatus("svc-1", "down")

	out, err := executeCommand(t, "monitors", "--kibana-url", fake.URL(), "--api-key", "secret")
	if err != nil {
		t.Fatalf("monitors command failed: %v", err)
	}

	for _, want := range []string{"Found 2 monitor(s)", "fleet-1", "Checkout flow", "svc-1", "Login page", "up", "down"} {
		if !strings.Contains(out, want) {
			t.Errorf("output should contain %q, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "System metrics") {
		t.Error("non-synthetics package policies should be skipped")
	}
	if strings.Index(out, "Checkout flow") > strings.Index(out, "Login page") {
		t.Error("monitors should be sorted by name")
	}
}

func TestMonitorsCommand_ListAlias(t *testing.T) {
	isolateHome(t)
	fake := testutil.NewFakeKibana(t)

	out, err := executeCommand(t, "list", "--kibana-url", fake.URL(), "--api-key", "secret")
	if err != nil {
		t.Fatalf("list alias failed: %v", err)
	}
	if !strings.Contains(out, "No monitors found") {
		t.Errorf("expected empty state, got %q", out)
	}
}

func TestDisplayMonitors(t *testing.T) {
	tests := []struct {
		name     string
		monitors []kibana.Monitor
		want     []string
	}{
		{
			name:     "empty",
			monitors: nil,
			want:     []string{"No monitors found"},
		},
		{
			name: "untitled and long names",
			monitors: []kibana.Monitor{
				{ID: "m-1", Name: "", Type: kibana.MonitorTypeFleet, Status: "unknown"},
				{ID: "m-2", Name: strings.Repeat("x", 60), Type: kibana.MonitorTypeService, Status: "up"},
			},
			want: []string{"Untitled", strings.Repeat("x", 47) + "...", "reconstruct", "m-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			displayMonitors(&buf, tt.monitors)
			for _, want := range tt.want {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("output should contain %q, got:\n%s", want, buf.String())
				}
			}
		})
	}
}
