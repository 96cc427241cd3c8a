package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

// These tests swap package state and must not run in parallel.

func withBuild(t *testing.T, ldVersion, ldCommit string, bi *debug.BuildInfo) {
	t.Helper()
	oldV, oldC, oldT, oldRead := Version, Commit, BuildTime, readBuildInfo
	t.Cleanup(func() { Version, Commit, BuildTime, readBuildInfo = oldV, oldC, oldT, oldRead })
	Version, Commit, BuildTime = ldVersion, ldCommit, ""
	readBuildInfo = func() (*debug.BuildInfo, bool) { return bi, bi != nil }
}

func TestResolveFromBuildInfo(t *testing.T) {
	withBuild(t, "", "", &debug.BuildInfo{
		Main: debug.Module{Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-10-01T10:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	})

	info := Resolve()
	if info.Version != "v0.3.1" || info.Commit != "0123456789abcdef0123" || info.BuildTime != "2026-10-01T10:00:00Z" || !info.Modified {
		t.Fatalf("unexpected info: %+v", info)
	}
	if got, want := String(), "v0.3.1 (0123456789ab+dirty)"; got != want {
		t.Fatalf("String: got %q want %q", got, want)
	}
}

func TestLdflagsWin(t *testing.T) {
	withBuild(t, "v1.0.0", "abc", &debug.BuildInfo{
		Main:     debug.Module{Version: "v0.3.1"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "ffff"}},
	})

	if got, want := String(), "v1.0.0 (abc)"; got != want {
		t.Fatalf("String: got %q want %q", got, want)
	}
}

func TestDevelFallback(t *testing.T) {
	withBuild(t, "", "", &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})

	info := Resolve()
	if !strings.HasPrefix(info.Version, "dev-") {
		t.Fatalf("expected dev version, got %q", info.Version)
	}
	if info.GoVersion == "" {
		t.Fatal("missing go version")
	}
	if String() != info.Version {
		t.Fatalf("String without commit should be the bare version, got %q", String())
	}
}
