package api

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// The mobile claim and OAuth endpoints are reachable without a session by
// design; everything else must sit behind a gate.
var publicRoutes = []string{
	`"/google/start"`,
	`"/google/callback"`,
	`"/mobile/start"`,
	`"/mobile/session"`,
}

func TestEveryRouteCarriesAGuard(t *testing.T) {
	path := filepath.Join(projectRoot(t), "api", "routes.go")
	lines := readLines(t, path)
	found := 0
	for i, line := range lines {
		if !strings.Contains(line, ".MethodFunc(") {
			continue
		}
		found++
		if isPublicRoute(line) {
			continue
		}
		if strings.Contains(line, "s.withSession(") ||
			strings.Contains(line, "s.submitGate(") ||
			strings.Contains(line, "s.adminGate(") ||
			strings.Contains(line, "s.superadminGate(") {
			continue
		}
		t.Fatalf("unguarded route in %s:%d -> %s", path, i+1, strings.TrimSpace(line))
	}
	if found == 0 {
		t.Fatalf("no routes found in %s", path)
	}
}

func TestAdminRoutesNamePermissions(t *testing.T) {
	path := filepath.Join(projectRoot(t), "api", "routes.go")
	lines := readLines(t, path)
	found := 0
	for i, line := range lines {
		if !strings.Contains(line, "adminRouter.MethodFunc(") {
			continue
		}
		found++
		if strings.Contains(line, "rbac.Perm") {
			continue
		}
		t.Fatalf("admin route without explicit permission in %s:%d -> %s", path, i+1, strings.TrimSpace(line))
	}
	if found == 0 {
		t.Fatalf("no admin routes found in %s", path)
	}
}

func isPublicRoute(line string) bool {
	for _, route := range publicRoutes {
		if strings.Contains(line, route) {
			return true
		}
	}
	return false
}

func projectRoot(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("runtime caller unavailable")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(thisFile), ".."))
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan %s: %v", path, err)
	}
	return lines
}
