package build

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrScriptNotFound is returned when no runnable program matches a script.
var ErrScriptNotFound = errors.New("script not found")

var (
	runnablePattern = regexp.MustCompile(`(?s)ns3_runnable_programs\s*=\s*\[(.*?)\]`)
	quotedPattern   = regexp.MustCompile(`'([^']*)'|"([^"]*)"`)
)

// Program is a compiled executable the build tool reports as runnable.
type Program struct {
	// Name as listed by the build tool, relative to the simulator root.
	Name string
	// Path is the absolute path of the executable.
	Path string
}

// OutputDir returns the build output directory, relative to the simulator
// root.
func OutputDir(optimized bool) string {
	if optimized {
		return filepath.Join("build", "optimized")
	}
	return "build"
}

// ManifestPath returns the build status file listing runnable programs.
func ManifestPath(root string, optimized bool) string {
	return filepath.Join(root, OutputDir(optimized), "build-status.py")
}

// LoadManifest reads the runnable programs of the simulator at root.
func LoadManifest(root string, optimized bool) ([]Program, error) {
	path := ManifestPath(root, optimized)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read build status %s: %w", path, err)
	}
	programs, err := ParseManifest(data, root)
	if err != nil {
		return nil, fmt.Errorf("parse build status %s: %w", path, err)
	}
	return programs, nil
}

// ParseManifest extracts the runnable program list from build status
// content. Paths are resolved against root.
func ParseManifest(data []byte, root string) ([]Program, error) {
	m := runnablePattern.FindSubmatch(data)
	if m == nil {
		return nil, fmt.Errorf("ns3_runnable_programs not found")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var programs []Program
	for _, q := range quotedPattern.FindAllSubmatch(m[1], -1) {
		name := string(q[1])
		if len(q[2]) > 0 {
			name = string(q[2])
		}
		if name == "" {
			continue
		}
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(absRoot, name)
		}
		programs = append(programs, Program{Name: name, Path: path})
	}
	return programs, nil
}

// ResolveScript picks the program whose name contains script and is closest
// in length to it. Ties go to the earliest listed program.
func ResolveScript(programs []Program, script string) (Program, error) {
	var (
		best      Program
		bestRatio float64
		found     bool
	)
	for _, p := range programs {
		if !strings.Contains(p.Name, script) {
			continue
		}
		ratio := float64(len(script)) / float64(len(p.Name))
		if !found || ratio > bestRatio {
			best, bestRatio, found = p, ratio, true
		}
	}
	if !found {
		return Program{}, fmt.Errorf("%w: %s", ErrScriptNotFound, script)
	}
	return best, nil
}

// LibraryPath returns the shared library search path of a build.
func LibraryPath(root string, optimized bool) string {
	out := filepath.Join(root, OutputDir(optimized))
	return out + string(os.PathListSeparator) + filepath.Join(out, "lib")
}

// Environment returns base extended with the library search path of a build.
func Environment(base []string, root string, optimized bool) []string {
	lib := LibraryPath(root, optimized)
	env := make([]string, 0, len(base)+2)
	for _, kv := range base {
		if strings.HasPrefix(kv, "LD_LIBRARY_PATH=") || strings.HasPrefix(kv, "DYLD_LIBRARY_PATH=") {
			continue
		}
		env = append(env, kv)
	}
	return append(env, "LD_LIBRARY_PATH="+lib, "DYLD_LIBRARY_PATH="+lib)
}
