package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const defaultBaseDir = ".planner"

// Paths holds resolved filesystem paths for planner data.
type Paths struct {
	Base   string // ~/.planner
	Config string // ~/.planner/config.yaml
	Data   string // ~/.planner/data
	Logs   string // ~/.planner/logs
}

// ResolvePaths computes all standard paths from the home directory.
// If PLANNER_HOME is set, it overrides the default base directory.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("PLANNER_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	return Paths{
		Base:   base,
		Config: filepath.Join(base, "config.yaml"),
		Data:   filepath.Join(base, "data"),
		Logs:   filepath.Join(base, "logs"),
	}, nil
}

// EnsureDirs creates all standard directories if they don't exist.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Data, p.Logs} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// DatabasePath resolves the SQLite file location for the given storage
// config.
func (p Paths) DatabasePath(storage StorageConfig) string {
	if storage.Path != "" {
		return storage.Path
	}
	return filepath.Join(p.Data, "planner.db")
}

// Keys that collide with object prototypes in clients that consume the
// raw config as JSON; never allowed in a config path.
var blockedKeys = []string{"__proto__", "prototype", "constructor"}

// ParseConfigPath splits a dot-separated config path into segments.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	segs := strings.Split(raw, ".")
	for _, seg := range segs {
		switch {
		case seg == "":
			return nil, &ConfigError{Message: "config path contains empty segment"}
		case slices.Contains(blockedKeys, seg):
			return nil, &ConfigError{Message: "config path contains blocked key: " + seg}
		}
	}
	return segs, nil
}

// GetValueAtPath walks a nested map along the path segments.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	var node any = root
	for _, seg := range path {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		if node, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return node, true
}

// descend returns the map that holds the final path segment. With
// create set, missing or non-map intermediates are replaced by fresh
// maps.
func descend(root map[string]any, path []string, create bool) (map[string]any, bool) {
	node := root
	for _, seg := range path[:len(path)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			if !create {
				return nil, false
			}
			child = map[string]any{}
			node[seg] = child
		}
		node = child
	}
	return node, true
}

// SetValueAtPath sets a value in a nested map, creating intermediate
// maps as needed.
func SetValueAtPath(root map[string]any, path []string, value any) {
	node, _ := descend(root, path, true)
	node[path[len(path)-1]] = value
}

// UnsetValueAtPath removes the value at the path. Returns true if a
// value was actually removed.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	node, ok := descend(root, path, false)
	if !ok {
		return false
	}
	leaf := path[len(path)-1]
	if _, ok := node[leaf]; !ok {
		return false
	}
	delete(node, leaf)
	return true
}
