package version

import (
	"runtime/debug"
	"testing"
)

func TestDerivePreservesLinkerOverride(t *testing.T) {
	t.Cleanup(func() { readBuildInfo = debug.ReadBuildInfo })
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		t.Fatalf("unexpected call to readBuildInfo")
		return nil, false
	}

	const override = "2.0.1"
	if got := derive(override); got != override {
		t.Fatalf("expected override %q to be preserved, got %q", override, got)
	}
}

func TestDeriveUsesModuleVersion(t *testing.T) {
	t.Cleanup(func() { readBuildInfo = debug.ReadBuildInfo })
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			Main: debug.Module{Version: "v0.3.0"},
		}, true
	}

	if got := derive(devVersion); got != "v0.3.0" {
		t.Fatalf("expected module version to be used, got %q", got)
	}
}

func TestDeriveFallsBackToRevision(t *testing.T) {
	t.Cleanup(func() { readBuildInfo = debug.ReadBuildInfo })
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			Settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "0123456789abcdef"},
				{Key: "vcs.modified", Value: "true"},
			},
		}, true
	}

	if got := derive(devVersion); got != "devel+0123456789ab-dirty" {
		t.Fatalf("expected revision fallback, got %q", got)
	}
}
