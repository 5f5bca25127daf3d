package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type SourceKind string

const (
	SourceDefault SourceKind = "default"
	SourceFile    SourceKind = "file"
	SourceEnv     SourceKind = "env"
)

// Source records where an effective value came from.
type Source struct {
	Kind   SourceKind
	Name   string // for default/env
	File   string
	Line   int
	Column int
}

// LoadResult is an effective config plus the origin of each value set in the
// file or the environment, keyed by YAML path ("virtual_display.width",
// "activities.2.component").
type LoadResult struct {
	Config  *Config
	Sources map[string]Source
	File    string // empty when no file was found
}

func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "clusterhome", "config.yaml"), nil
}

// Load reads the configuration from the standard location.
func Load() (*Config, error) {
	res, err := LoadWithSources()
	if err != nil {
		return nil, err
	}
	return res.Config, nil
}

// LoadWithSources is Load with per-value sources for introspection.
func LoadWithSources() (*LoadResult, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads one YAML file. A missing file yields the defaults.
// Environment overrides are applied last.
func LoadFromPath(path string) (*LoadResult, error) {
	res := &LoadResult{Sources: map[string]Source{}}

	raw, err := readRawFile(path, res.Sources)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		raw = RawConfig{}
	case err != nil:
		return nil, err
	default:
		res.File = path
	}

	cfg, err := BuildEffectiveConfig(raw)
	if err != nil {
		return nil, withSource(err, res.Sources)
	}
	if err := applyEnv(cfg, res.Sources); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, withSource(err, res.Sources)
	}
	res.Config = cfg
	return res, nil
}

// readRawFile strictly decodes path and records the position of every key
// and list item in sources.
func readRawFile(path string, sources map[string]Source) (RawConfig, error) {
	var raw RawConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return raw, err
		}
		return raw, fmt.Errorf("%s: failed to read: %w", path, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return raw, fmt.Errorf("%s: failed to parse yaml: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return raw, fmt.Errorf("%s: %w", path, err)
	}

	root := &doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return raw, nil
		}
		root = root.Content[0]
	}
	recordPositions(root, path, "", sources)
	return raw, nil
}

func recordPositions(node *yaml.Node, file, prefix string, sources map[string]Source) {
	at := func(n *yaml.Node) Source {
		return Source{Kind: SourceFile, File: file, Line: n.Line, Column: n.Column}
	}
	join := func(key string) string {
		if prefix == "" {
			return key
		}
		return prefix + "." + key
	}

	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i].Value, node.Content[i+1]
			sources[join(key)] = at(val)
			recordPositions(val, file, join(key), sources)
		}
	case yaml.SequenceNode:
		if prefix != "" {
			sources[prefix] = at(node)
		}
		for i, item := range node.Content {
			p := join(strconv.Itoa(i))
			sources[p] = at(item)
			recordPositions(item, file, p, sources)
		}
	}
}

// withSource points a validation error at the line that set the bad value.
func withSource(err error, sources map[string]Source) error {
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Path == "" {
		return err
	}
	if src, ok := sources[verr.Path]; ok {
		verr.Source = src
	}
	return err
}
