package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

// fakeTree writes an executable waf script into a fresh simulator root.
func fakeTree(t *testing.T, waf string) string {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "waf"), []byte("#!/bin/sh\n"+waf), 0o755); err != nil {
		t.Fatalf("write waf: %v", err)
	}
	return root
}

const okWaf = `
case "$1" in
configure) echo "configured $*" > configure.log ;;
build)
  echo "Waf: Entering directory"
  echo "[ 1/3] Compiling a.cc"
  echo "[2/3] Compiling b.cc"
  echo "[3/3] Linking wifi-example"
  echo "'build' finished successfully"
  ;;
esac
`

func TestBuildProgress(t *testing.T) {
	root := fakeTree(t, okWaf)
	b := New(root, true)

	progress, err := b.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var steps []Step
	for s := range progress.Steps() {
		steps = append(steps, s)
	}
	want := []Step{{1, 3}, {2, 3}, {3, 3}}
	if !slices.Equal(steps, want) {
		t.Errorf("steps = %v, want %v", steps, want)
	}

	for range progress.Steps() {
		t.Fatal("Steps() yielded after being consumed")
	}

	if err := progress.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	log, err := os.ReadFile(filepath.Join(root, "configure.log"))
	if err != nil {
		t.Fatalf("configure was not run: %v", err)
	}
	if got := string(log); got != "configured configure --enable-examples --disable-gtk --disable-python --build-profile=optimized --out=build/optimized\n" {
		t.Errorf("unexpected configure invocation: %q", got)
	}
}

func TestBuildSkipConfigure(t *testing.T) {
	root := fakeTree(t, okWaf)

	progress, err := New(root, false).Run(context.Background(), true)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := progress.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "configure.log")); !os.IsNotExist(err) {
		t.Errorf("configure ran although skipped")
	}
}

func TestBuildEarlyStop(t *testing.T) {
	root := fakeTree(t, okWaf)
	progress, err := New(root, true).Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for s := range progress.Steps() {
		if s.Done != 1 {
			t.Errorf("first step = %v", s)
		}
		break
	}
	if err := progress.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestBuildFailure(t *testing.T) {
	root := fakeTree(t, `
case "$1" in
build)
  echo "[1/2] Compiling a.cc"
  echo "a.cc:1: error: expected ';'" >&2
  exit 1
  ;;
esac
`)

	tests := []struct {
		name    string
		observe bool
	}{
		{"observed", true},
		{"unobserved", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			progress, err := New(root, true).Run(context.Background(), false)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if tt.observe {
				for range progress.Steps() {
				}
			}
			err = progress.Wait()
			var buildErr *BuildError
			if !errors.As(err, &buildErr) {
				t.Fatalf("Wait() error = %v, want *BuildError", err)
			}
			if buildErr.Step != "build" || buildErr.ExitCode != 1 {
				t.Errorf("unexpected build error: %+v", buildErr)
			}
			if buildErr.Stderr != "a.cc:1: error: expected ';'\n" {
				t.Errorf("stderr = %q", buildErr.Stderr)
			}
			if buildErr.Stdout != "[1/2] Compiling a.cc\n" {
				t.Errorf("stdout = %q", buildErr.Stdout)
			}
		})
	}
}

func TestConfigureFailure(t *testing.T) {
	root := fakeTree(t, `
if [ "$1" = configure ]; then
  echo "not an ns-3 tree" >&2
  exit 2
fi
`)
	_, err := New(root, false).Run(context.Background(), false)
	var buildErr *BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("Run() error = %v, want *BuildError", err)
	}
	if buildErr.Step != "configure" || buildErr.ExitCode != 2 {
		t.Errorf("unexpected build error: %+v", buildErr)
	}
}

func TestParseStep(t *testing.T) {
	tests := []struct {
		line string
		want Step
		ok   bool
	}{
		{"[ 12/345] Compiling src/core/model/log.cc", Step{12, 345}, true},
		{"[345/345] Linking", Step{345, 345}, true},
		{"Waf: Leaving directory", Step{}, false},
		{"[a/b] nope", Step{}, false},
	}
	for _, tt := range tests {
		got, ok := parseStep(tt.line)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseStep(%q) = %v, %v; want %v, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseManifest(t *testing.T) {
	data := []byte(`#! /usr/bin/env python

# Programs that are runnable.
ns3_runnable_programs = ['build/optimized/examples/wireless/ns3-dev-wifi-example-optimized',
    "build/optimized/scratch/ns3-dev-scratch-simulator-optimized"]

# Scripts that are runnable.
ns3_runnable_scripts = ['csma-bridge.py']
`)
	programs, err := ParseManifest(data, "/opt/ns-3")
	if err != nil {
		t.Fatalf("ParseManifest() error = %v", err)
	}
	want := []Program{
		{Name: "build/optimized/examples/wireless/ns3-dev-wifi-example-optimized", Path: "/opt/ns-3/build/optimized/examples/wireless/ns3-dev-wifi-example-optimized"},
		{Name: "build/optimized/scratch/ns3-dev-scratch-simulator-optimized", Path: "/opt/ns-3/build/optimized/scratch/ns3-dev-scratch-simulator-optimized"},
	}
	if !slices.Equal(programs, want) {
		t.Errorf("programs = %v, want %v", programs, want)
	}

	if _, err := ParseManifest([]byte("nothing here"), "/opt/ns-3"); err == nil {
		t.Error("expected error for manifest without program list")
	}
}

func TestLoadManifest(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "build")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "ns3_runnable_programs = ['build/scratch/sim']\n"
	if err := os.WriteFile(filepath.Join(dir, "build-status.py"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	programs, err := LoadManifest(root, false)
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}
	if len(programs) != 1 || programs[0].Path != filepath.Join(root, "build/scratch/sim") {
		t.Errorf("programs = %v", programs)
	}

	if _, err := LoadManifest(root, true); err == nil {
		t.Error("expected error for missing optimized manifest")
	}
}

func TestResolveScript(t *testing.T) {
	programs := []Program{
		{Name: "foobar", Path: "/p/foobar"},
		{Name: "foo", Path: "/p/foo"},
		{Name: "barfoo", Path: "/p/barfoo"},
	}

	tests := []struct {
		name    string
		script  string
		want    string
		wantErr error
	}{
		{"exact match wins", "foo", "foo", nil},
		{"unique substring", "bar", "foobar", nil},
		{"suffix", "rfoo", "barfoo", nil},
		{"missing", "baz", "", ErrScriptNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveScript(programs, tt.script)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ResolveScript() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveScript() error = %v", err)
			}
			if got.Name != tt.want {
				t.Errorf("ResolveScript() = %s, want %s", got.Name, tt.want)
			}
		})
	}
}

func TestEnvironment(t *testing.T) {
	env := Environment([]string{"HOME=/root", "LD_LIBRARY_PATH=/old"}, "/opt/ns-3", true)
	want := []string{
		"HOME=/root",
		"LD_LIBRARY_PATH=/opt/ns-3/build/optimized:/opt/ns-3/build/optimized/lib",
		"DYLD_LIBRARY_PATH=/opt/ns-3/build/optimized:/opt/ns-3/build/optimized/lib",
	}
	if !slices.Equal(env, want) {
		t.Errorf("Environment() = %v, want %v", env, want)
	}

	if got := LibraryPath("/opt/ns-3", false); got != "/opt/ns-3/build:/opt/ns-3/build/lib" {
		t.Errorf("LibraryPath(debug) = %s", got)
	}
}
