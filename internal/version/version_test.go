package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	info := Info()
	if !strings.HasPrefix(info, "geoscout dev") {
		t.Errorf("Info() = %q, want prefix %q", info, "geoscout dev")
	}
	if !strings.Contains(info, runtime.Version()) {
		t.Errorf("Info() should contain Go version, got: %s", info)
	}
}

func TestShortAndUserAgent(t *testing.T) {
	if got := Short(); got != "dev" {
		t.Errorf("Short() = %q, want %q (default)", got, "dev")
	}
	if got := UserAgent(); got != "geoscout/dev" {
		t.Errorf("UserAgent() = %q, want %q", got, "geoscout/dev")
	}
}

func TestMap(t *testing.T) {
	m := Map()
	for _, key := range []string{"version", "git_commit", "build_date", "go_version", "os", "arch"} {
		if _, ok := m[key]; !ok {
			t.Errorf("Map() missing key %q", key)
		}
	}
	if m["go_version"] != runtime.Version() {
		t.Errorf("Map()[\"go_version\"] = %q, want %q", m["go_version"], runtime.Version())
	}
}

func TestFields(t *testing.T) {
	if got := len(Fields()); got != 3 {
		t.Errorf("len(Fields()) = %d, want 3", got)
	}
}
