package version

import "testing"

func TestCurrentFillsDefaults(t *testing.T) {
	oldV, oldC := Version, Commit
	t.Cleanup(func() { Version, Commit = oldV, oldC })

	Version, Commit = "  ", ""
	info := Current()
	if info.Version != "dev" || info.Commit != "unknown" {
		t.Fatalf("unexpected defaults: %+v", info)
	}
	if got := info.String(); got != "dev (unknown)" {
		t.Fatalf("unexpected string: %q", got)
	}

	Version, Commit, BuildTime = "v1.2.0", "abc123", "2026-10-01T00:00:00Z"
	t.Cleanup(func() { BuildTime = "" })
	if got := Current().String(); got != "v1.2.0 (abc123, built 2026-10-01T00:00:00Z)" {
		t.Fatalf("unexpected string: %q", got)
	}
}
