package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a deployment manifest from a local file path.
//
// The file format is determined by extension: .yaml/.yml for YAML, .json for
// JSON. Unrecognized extensions are parsed as YAML, which also accepts JSON.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading manifest: %s", path)
		}
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadURI loads a manifest from a local path or an s3://bucket/key URI.
func LoadURI(ctx context.Context, uri string, opts SourceOptions) (*Manifest, error) {
	if !strings.HasPrefix(uri, "s3://") {
		return Load(uri)
	}

	data, err := fetchS3(ctx, uri, opts)
	if err != nil {
		return nil, err
	}
	return LoadFromBytes(data, uri)
}

// LoadFromReader reads and validates a manifest from an io.Reader.
func LoadFromReader(r io.Reader, path string) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes parses and validates a manifest from raw bytes.
//
// The raw document is validated against the schema before it is decoded so
// unknown top-level keys are rejected instead of silently dropped.
func LoadFromBytes(data []byte, path string) (*Manifest, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("manifest file is empty")
	}

	raw, err := decodeRaw(data, path)
	if err != nil {
		return nil, err
	}

	jsonData, err := json.Marshal(normalize(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to convert manifest to JSON: %w", err)
	}
	if err := ValidateRaw(jsonData); err != nil {
		return nil, err
	}

	var m Manifest
	if isJSON(path) {
		err = json.Unmarshal(data, &m)
	} else {
		err = yaml.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	for i, job := range m.Jobs {
		m.Jobs[i] = normalizeMap(job)
	}
	m.Properties = normalizeMap(m.Properties)
	m.Update = normalizeMap(m.Update)

	m.ApplyDefaults()
	return &m, nil
}

// normalize rewrites YAML mappings with non-string keys (such as integer
// instance indices) into string-keyed mappings.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeMap(t)
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = normalize(t[i])
		}
		return t
	default:
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	for k, v := range m {
		m[k] = normalize(v)
	}
	return m
}

// decodeRaw parses data into a generic document for schema validation.
func decodeRaw(data []byte, path string) (any, error) {
	var raw any
	if isJSON(path) {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON in manifest: %w", err)
		}
		return raw, nil
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML in manifest: %w", err)
	}
	return raw, nil
}

func isJSON(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".json"
}
