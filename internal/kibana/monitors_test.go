package kibana

import (
	"context"
	"testing"

	"github.com/iksnae/synthshot/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_ListMonitors(t *testing.T) {
	f := testutil.NewFakeKibana(t)
	f.AddFleetPolicy("policy-1",
		[3]string{"fleet-b", "Checkout flow", "synthetics"},
		[3]string{"sys-1", "System metrics", "system"},
	)
	f.AddFleetPolicy("policy-2", [3]string{"fleet-a", "Login journey", "synthetics"})
	f.AddFleetPolicy("policy-empty")
	f.AddServiceMonitor("svc-1", "Homepage")
	f.SetMonitorStatus("fleet-a", "up")
	f.SetMonitorStatus("svc-1", "down")

	monitors, err := newTestClient(t, f).ListMonitors(context.Background())
	require.NoError(t, err)

	require.Len(t, monitors, 3)
	assert.Equal(t, Monitor{ID: "fleet-b", Name: "Checkout flow", Type: MonitorTypeFleet, Status: "unknown"}, monitors[0])
	assert.Equal(t, Monitor{ID: "svc-1", Name: "Homepage", Type: MonitorTypeService, Status: "down"}, monitors[1])
	assert.Equal(t, Monitor{ID: "fleet-a", Name: "Login journey", Type: MonitorTypeFleet, Status: "up"}, monitors[2])
}

func TestClient_ListMonitors_Empty(t *testing.T) {
	f := testutil.NewFakeKibana(t)

	monitors, err := newTestClient(t, f).ListMonitors(context.Background())
	require.NoError(t, err)
	assert.Empty(t, monitors)
}
