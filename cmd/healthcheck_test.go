package cmd

import (
	"strings"
	"testing"

	"github.com/iksnae/synthshot/testutil"
)

func TestHealthcheckCommand(t *testing.T) {
	// Test that the command exists and can be called
	out, err := executeCommand(t, "healthcheck", "--help")
	if err != nil {
		t.Fatalf("healthcheck command failed: %v", err)
	}
	if out == "" {
		t.Error("healthcheck --help should produce output")
	}
}

func TestHealthcheckCommandExists(t *testing.T) {
	found := false
	for _, cmd := range rootCmd.Commands() {
		if cmd.Name() == "healthcheck" {
			found = true
			break
		}
	}
	if !found {
		t.Error("healthcheck command not found in root command")
	}
}

func TestHealthcheckVerboseFlag(t *testing.T) {
	if healthcheckCmd.Flag("verbose") == nil {
		t.Error("healthcheck command should have --verbose flag")
	}
	if healthcheckCmd.Flags().ShorthandLookup("v") == nil {
		t.Error("healthcheck command should have -v flag")
	}
}

func TestHealthcheckCommand_Healthy(t *testing.T) {
	isolateHome(t)
	fake := testutil.NewFakeKibana(t)

	out, err := executeCommand(t, "healthcheck", "-v", "--kibana-url", fake.URL(), "--api-key", "secret")
	if err != nil {
		t.Fatalf("healthcheck failed: %v\n%s", err, out)
	}
	for _, want := range []string{"Configuration valid", "Connected to fake-kibana", "Version: 8.12.0", "History database accessible", "All checks passed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output should contain %q, got:\n%s", want, out)
		}
	}
	if fake.RequestCount("/api/status") != 1 {
		t.Errorf("status requests = %d, want 1", fake.RequestCount("/api/status"))
	}
}

func TestHealthcheckCommand_Failures(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "missing api key",
			args: []string{"healthcheck", "--kibana-url", "http://localhost:5601"},
			want: "Invalid configuration",
		},
		{
			name: "unreachable kibana",
			args: []string{"healthcheck", "--kibana-url", "http://127.0.0.1:1", "--api-key", "secret", "--timeout", "2s"},
			want: "Kibana is not reachable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateHome(t)
			out, err := executeCommand(t, tt.args...)
			if err == nil {
				t.Fatal("healthcheck should fail")
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output should contain %q, got:\n%s", tt.want, out)
			}
		})
	}
}
