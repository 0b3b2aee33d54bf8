// Package testutil holds test helpers that keep the layering of campaigncore
// honest: the domain and policy packages must stay free of transport,
// storage drivers and service internals.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

// Predicate reports whether an import path is forbidden.
type Predicate func(path string) bool

// AnyOf combines predicates.
func AnyOf(preds ...Predicate) Predicate {
	return func(path string) bool {
		return slices.ContainsFunc(preds, func(p Predicate) bool { return p(path) })
	}
}

// InternalImport matches packages under internal/.
func InternalImport(path string) bool {
	return strings.Contains(path, "/internal/")
}

// AdapterImport matches inbound adapters such as the HTTP API.
func AdapterImport(path string) bool {
	return strings.Contains(path, "/internal/adapters/")
}

var storageDrivers = []string{
	"database/sql",
	"modernc.org/sqlite",
	"github.com/jackc/pgx/",
	"github.com/aws/aws-sdk-go-v2",
}

// StorageDriverImport matches database and object-storage drivers.
func StorageDriverImport(path string) bool {
	for _, prefix := range storageDrivers {
		if path == prefix || strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// TransportImport matches HTTP serving and metrics exposition.
func TransportImport(path string) bool {
	return path == "net/http" || strings.HasPrefix(path, "github.com/prometheus/client_golang/prometheus/promhttp")
}

// AssertNoDirectImports parses the non-test Go files in dir and fails when an
// import matches forbidden. Build tags are ignored.
func AssertNoDirectImports(t testing.TB, dir string, forbidden Predicate, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	if len(viols) > 0 {
		t.Fatalf("forbidden imports (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}

// AssertNoTransitiveDependency runs `go list -deps pattern` and fails when any
// dependency matches forbidden.
func AssertNoTransitiveDependency(t testing.TB, pattern string, forbidden Predicate, reason string) {
	t.Helper()
	out, err := goListDeps(pattern)
	if err != nil {
		t.Fatalf("go list -deps %s: %v\n%s", pattern, err, out)
	}
	var viols []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" && forbidden(line) {
			viols = append(viols, line)
		}
	}
	if len(viols) > 0 {
		t.Fatalf("forbidden transitive dependencies (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}

var goListDeps = func(pattern string) ([]byte, error) {
	return exec.Command("go", "list", "-deps", pattern).CombinedOutput()
}

func directImportViolations(dir string, forbidden Predicate) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range file.Imports {
			path := strings.Trim(imp.Path.Value, `"`)
			if forbidden(path) {
				viols = append(viols, path+" ("+name+")")
			}
		}
	}
	return viols, nil
}
