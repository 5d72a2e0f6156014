package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// File is the result of loading one config path: the parsed sources plus
// everything the loader wants to tell the caller about them.
type File struct {
	Sources    []Source
	Warnings   []string
	Migrations []string
	Paths      []string
}

// Load reads source descriptors from path. Path may be a single JSON or YAML
// file or a directory of such files. A file may hold a single source object
// or {"sources": [...]}. A hard invariant violation returns *ConfigError.
func Load(path string) (*File, error) {
	paths, err := resolvePaths(path)
	if err != nil {
		return nil, err
	}

	out := &File{Paths: paths}
	var errs []string

	for _, p := range paths {
		raws, warns, err := readRawSources(p)
		if err != nil {
			return nil, err
		}
		out.Warnings = append(out.Warnings, warns...)

		for _, raw := range raws {
			migrated, mwarns, was := Migrate(raw)
			if was {
				out.Migrations = append(out.Migrations, fmt.Sprintf("%s: migrated to config_version %d", sourceID(migrated), CurrentConfigVersion))
			}
			out.Warnings = append(out.Warnings, mwarns...)

			src, err := decodeSource(migrated)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", sourceID(migrated), err))
				continue
			}
			if !src.IsEnabled() {
				continue
			}
			var unknown []string
			for k := range migrated {
				switch k {
				case "config_version", "source_id", "enabled", "engine", "entrypoints", "actions",
					"discovery", "parse", "validation", "quality", "storage", "schedule", "concurrency":
				default:
					unknown = append(unknown, k)
				}
			}
			sort.Strings(unknown)
			for _, k := range unknown {
				out.Warnings = append(out.Warnings, fmt.Sprintf("%s: unknown key %q ignored", src.SourceID, k))
			}
			ApplyDefaults(&src)
			serrs, swarns := Validate(&src)
			errs = append(errs, serrs...)
			out.Warnings = append(out.Warnings, swarns...)
			out.Sources = append(out.Sources, src)
		}
	}

	if len(errs) > 0 {
		return nil, &ConfigError{Errors: errs}
	}
	if len(out.Sources) == 0 {
		return nil, &ConfigError{Errors: []string{"no enabled sources found"}}
	}

	ids := map[string]bool{}
	for _, s := range out.Sources {
		if ids[s.SourceID] {
			return nil, &ConfigError{Errors: []string{fmt.Sprintf("duplicate source_id: %s", s.SourceID)}}
		}
		ids[s.SourceID] = true
	}
	return out, nil
}

func resolvePaths(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config not found: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".json", ".yml", ".yaml":
			paths = append(paths, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("no config files found in %s", path)
	}
	return paths, nil
}

// readRawSources parses one file into raw source maps, expanding ${ENV_VAR}
// references first so that secrets never need to live in the file.
func readRawSources(path string) ([]map[string]any, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	expanded, warns := ExpandEnv(string(data))
	for i, w := range warns {
		warns[i] = fmt.Sprintf("%s: %s", path, w)
	}

	var doc map[string]any
	switch filepath.Ext(path) {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
			return nil, warns, fmt.Errorf("%s: %w", path, err)
		}
	default:
		if err := json.Unmarshal([]byte(expanded), &doc); err != nil {
			return nil, warns, fmt.Errorf("%s: %w", path, err)
		}
	}

	if list, ok := doc["sources"].([]any); ok {
		out := make([]map[string]any, 0, len(list))
		for i, el := range list {
			m, ok := el.(map[string]any)
			if !ok {
				return nil, warns, fmt.Errorf("%s: sources[%d] must be an object", path, i)
			}
			out = append(out, m)
		}
		return out, warns, nil
	}
	return []map[string]any{doc}, warns, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv substitutes ${VAR} references. Only the braced form is
// recognized, so regex anchors and URL templates pass through untouched.
// Unset variables expand to the empty string and produce a warning.
func ExpandEnv(s string) (string, []string) {
	var warns []string
	out := envRef.ReplaceAllStringFunc(s, func(m string) string {
		name := m[2 : len(m)-1]
		v, ok := os.LookupEnv(name)
		if !ok {
			warns = append(warns, fmt.Sprintf("environment variable %s is not set, expanding to empty", name))
			return ""
		}
		return v
	})
	return out, warns
}

// decodeSource converts a raw map into the typed descriptor via a JSON
// round-trip, which keeps one set of field names for both surfaces.
func decodeSource(raw map[string]any) (Source, error) {
	var s Source
	b, err := json.Marshal(raw)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, err
	}
	return s, nil
}

// Serialize renders a descriptor back to JSON. Load(Serialize(d)) equals d
// modulo default injection.
func Serialize(s *Source) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

func sourceID(raw map[string]any) string {
	if id, ok := raw["source_id"].(string); ok && id != "" {
		return id
	}
	return "<no source_id>"
}
