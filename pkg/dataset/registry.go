package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Dataset type names. TypeMultiChoice triggers option-list prompt assembly;
// every other type leaves the question untouched.
const (
	TypeMultiChoice = "multi-choice"
	TypeVQA         = "VQA"
	TypeCaption     = "caption"
	TypeYesNo       = "Y/N"
)

// Info describes one known dataset.
type Info struct {
	// Type is the dataset type (TypeMultiChoice, TypeVQA, ...).
	Type string `json:"type" yaml:"type" toml:"type"`
	// ImageRoot is the subdirectory of the image cache the dataset's images
	// are written to. Benchmark splits of one family share a root.
	ImageRoot string `json:"image_root" yaml:"image_root" toml:"image_root"`
}

// Registry maps dataset names to their metadata. The built-in defaults
// cover the common public benchmarks; a configuration file can overlay or
// extend them.
type Registry struct {
	datasets map[string]Info
}

// NewRegistry returns a registry preloaded with the built-in datasets.
func NewRegistry() *Registry {
	r := &Registry{datasets: make(map[string]Info)}
	for family, names := range map[string][]string{
		"MMBench":   {"MMBench", "MMBench_DEV_EN", "MMBench_TEST_EN", "MMBench_DEV_CN", "MMBench_TEST_CN"},
		"CCBench":   {"CCBench"},
		"SEEDBench": {"SEEDBench_IMG"},
		"ScienceQA": {"ScienceQA_VAL", "ScienceQA_TEST"},
		"MMMU":      {"MMMU_DEV_VAL"},
	} {
		for _, name := range names {
			r.datasets[name] = Info{Type: TypeMultiChoice, ImageRoot: family}
		}
	}
	for name, info := range map[string]Info{
		"OCRVQA_TEST": {Type: TypeVQA, ImageRoot: "OCRVQA"},
		"TextVQA_VAL": {Type: TypeVQA, ImageRoot: "TextVQA"},
		"ChartQA_TEST": {Type: TypeVQA, ImageRoot: "ChartQA"},
		"DocVQA_VAL":  {Type: TypeVQA, ImageRoot: "DocVQA"},
		"COCO_VAL":    {Type: TypeCaption, ImageRoot: "COCO"},
		"MME":         {Type: TypeYesNo, ImageRoot: "MME"},
	} {
		r.datasets[name] = info
	}
	return r
}

// Lookup returns the metadata of a dataset, reporting false for unknown
// names.
func (r *Registry) Lookup(name string) (Info, bool) {
	info, ok := r.datasets[name]
	return info, ok
}

// Type returns the dataset's type, or "" for unknown or empty names.
func (r *Registry) Type(name string) string {
	info, ok := r.datasets[name]
	if !ok {
		return ""
	}
	return info.Type
}

// ImageRoot returns the image cache subdirectory for a dataset. Unknown
// datasets fall back to their own name so ad hoc evaluations still get a
// stable cache location.
func (r *Registry) ImageRoot(name string) string {
	if info, ok := r.datasets[name]; ok && info.ImageRoot != "" {
		return info.ImageRoot
	}
	return name
}

// registryFile is the on-disk overlay format.
type registryFile struct {
	Datasets map[string]Info `json:"datasets" yaml:"datasets" toml:"datasets"`
}

// LoadFile overlays dataset definitions from a YAML, JSON, or TOML file,
// chosen by extension.
func (r *Registry) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read dataset registry: %w", err)
	}

	var file registryFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return fmt.Errorf("parse dataset registry: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(raw, &file); err != nil {
			return fmt.Errorf("parse dataset registry: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(raw, &file); err != nil {
			return fmt.Errorf("parse dataset registry: %w", err)
		}
	default:
		return fmt.Errorf("unsupported dataset registry extension %q", ext)
	}

	for name, info := range file.Datasets {
		r.datasets[name] = info
	}
	return nil
}
