package instance

import (
	"strings"
	"testing"
)

func TestGetIDPrefersEnv(t *testing.T) {
	t.Setenv("CMS_WORKER_ID", "pipeline-7")
	if got := GetID(); got != "pipeline-7" {
		t.Fatalf("expected env id, got %q", got)
	}
}

func TestGetIDFallsBackToHostAndPID(t *testing.T) {
	t.Setenv("CMS_WORKER_ID", "")
	if got := GetID(); !strings.Contains(got, "-") {
		t.Fatalf("expected host-pid id, got %q", got)
	}
}
