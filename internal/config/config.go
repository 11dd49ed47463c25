// Package config defines the JSON-serializable pipeline configuration and a
// lint-style validator over it. Field names in Go mirror the JSON structure
// used in pipeline files under configs/*.json; decoding is plain
// encoding/json with a small Options helper for the free-form CSV options
// bag.
//
// Example (trimmed):
//
//	{
//	  "job":    "qualifying-2024",
//	  "source": { "path": "data/qualifying.csv", "options": { "comma": "," } },
//	  "transform": { "season_min": 1950 },
//	  "destinations": [
//	    { "kind": "sqlite",   "dsn": "f1.db", "auto_create_schema": true },
//	    { "kind": "postgres", "dsn_env": "F1_POSTGRES_DSN", "schema": "f1" },
//	    { "kind": "flatfile", "output": "out/qualifying_clean.csv" }
//	  ],
//	  "runtime": { "batch_size": 500 }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Pipeline is the top-level object decoded from a pipeline file.
type Pipeline struct {
	// Job names the run; it labels metrics and log lines.
	Job string `json:"job"`

	// Source describes the input CSV.
	Source Source `json:"source"`

	// Transform tunes cleaning and validation.
	Transform TransformConfig `json:"transform"`

	// Destinations lists every sink the cleaned data is written to. Each
	// destination is loaded independently; one failing does not stop the
	// others.
	Destinations []Destination `json:"destinations"`

	Runtime RuntimeConfig `json:"runtime"`
}

// Source identifies the input file plus parser options.
type Source struct {
	// Path is the local filesystem path to the input CSV.
	Path string `json:"path"`

	// Options is a free-form bag for CSV settings. Recognized keys:
	//   comma (string, single character), header_map (object of string).
	Options Options `json:"options"`
}

// TransformConfig tunes the clean/validate stage. Zero values mean defaults
// (1950 .. next year).
type TransformConfig struct {
	SeasonMin int `json:"season_min"`
	SeasonMax int `json:"season_max"`
}

// Destination selects one sink. Kind "flatfile" uses Output; the relational
// kinds use DSN or DSNEnv.
type Destination struct {
	// Kind selects the backend: "sqlite", "postgres", "mysql", "flatfile".
	Kind string `json:"kind"`

	// DSN is the backend connection string (a file path for sqlite).
	DSN string `json:"dsn"`

	// DSNEnv names an environment variable holding the DSN. It takes
	// precedence over DSN when set, so pipeline files never need to carry
	// credentials.
	DSNEnv string `json:"dsn_env"`

	// Schema optionally qualifies table names (postgres).
	Schema string `json:"schema"`

	// AutoCreateSchema runs EnsureSchema before loading.
	AutoCreateSchema bool `json:"auto_create_schema"`

	// Output is the destination path for the "flatfile" kind.
	Output string `json:"output"`
}

// ResolveDSN returns the effective DSN, reading DSNEnv when set.
func (d Destination) ResolveDSN() (string, error) {
	if d.DSNEnv != "" {
		v := os.Getenv(d.DSNEnv)
		if v == "" {
			return "", fmt.Errorf("config: destination %s: env %s is not set", d.Kind, d.DSNEnv)
		}
		return v, nil
	}
	return d.DSN, nil
}

// RuntimeConfig controls batching.
type RuntimeConfig struct {
	// BatchSize is the upsert chunk size; DefaultBatchSize when zero.
	BatchSize int `json:"batch_size"`
}

// DefaultBatchSize is used when runtime.batch_size is absent.
const DefaultBatchSize = 500

// EffectiveBatchSize returns BatchSize or the default.
func (r RuntimeConfig) EffectiveBatchSize() int {
	if r.BatchSize > 0 {
		return r.BatchSize
	}
	return DefaultBatchSize
}

// Load reads and decodes a pipeline file. Unknown fields are rejected so
// typos surface immediately instead of silently configuring nothing.
func Load(path string) (Pipeline, error) {
	var p Pipeline
	f, err := os.Open(path)
	if err != nil {
		return p, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return p, nil
}

// Options fetches typed values from an arbitrary JSON map with minimal
// coercion, returning the provided default when a key is absent or of an
// unexpected type.
type Options map[string]any

// String returns the string value for key or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers decode as float64,
// so both float64 and int are accepted.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def. Used for
// the CSV delimiter.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			return []rune(s)[0]
		}
	}
	return def
}

// StringMap returns a map[string]string for key when the value is an object
// of strings. Non-string values are ignored; a missing key yields an empty
// map.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o[key]; ok {
		if m, ok := v.(map[string]any); ok {
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		}
	}
	return res
}

// UnmarshalJSON makes a missing or null "options" object decode to a
// non-nil, empty Options map, so call sites never nil-check.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
