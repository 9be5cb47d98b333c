// Package seed provisions model configurations and module preferences from a
// YAML file. Values may reference environment variables as ${VAR} or
// ${VAR:-default}.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yachtie/modelhub/internal/store"
)

// File is the seed document.
type File struct {
	Models            []Model                  `yaml:"models"`
	ModulePreferences []store.ModulePreference `yaml:"module_preferences"`
}

// Model is one model entry. Models are active unless is_active is false.
type Model struct {
	store.ModelRecord `yaml:",inline"`
	Capabilities      []string       `yaml:"capabilities"`
	Parameters        map[string]any `yaml:"parameters"`
}

func (m *Model) UnmarshalYAML(value *yaml.Node) error {
	type plain Model
	p := plain{ModelRecord: store.ModelRecord{IsActive: true}}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*m = Model(p)
	return nil
}

// Record converts the entry to its stored form.
func (m Model) Record() (store.ModelRecord, error) {
	rec := m.ModelRecord
	if m.Capabilities != nil {
		b, err := json.Marshal(m.Capabilities)
		if err != nil {
			return store.ModelRecord{}, fmt.Errorf("model %s capabilities: %w", m.ID, err)
		}
		rec.Capabilities = b
	}
	if m.Parameters != nil {
		b, err := json.Marshal(m.Parameters)
		if err != nil {
			return store.ModelRecord{}, fmt.Errorf("model %s parameters: %w", m.ID, err)
		}
		rec.Parameters = b
	}
	return rec, nil
}

// Load reads and validates a seed file.
func Load(path string) (*File, error) {
	clean := filepath.Clean(path)
	if ext := filepath.Ext(clean); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("seed file %s: only .yaml and .yml are supported", clean)
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("read seed file %s: %w", clean, err)
	}
	return Parse(data)
}

// Parse decodes a seed document after environment substitution.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks required fields and duplicate ids.
func (f *File) Validate() error {
	seen := make(map[string]bool, len(f.Models))
	for i, m := range f.Models {
		if m.ID == "" {
			return fmt.Errorf("models[%d]: id is required", i)
		}
		if m.Provider == "" {
			return fmt.Errorf("model %s: provider is required", m.ID)
		}
		if m.ModelID == "" {
			return fmt.Errorf("model %s: model_id is required", m.ID)
		}
		if seen[m.ID] {
			return fmt.Errorf("model %s: duplicate id", m.ID)
		}
		seen[m.ID] = true
	}
	for i, p := range f.ModulePreferences {
		if p.Module == "" || p.ModelID == "" {
			return fmt.Errorf("module_preferences[%d]: module and model_id are required", i)
		}
	}
	return nil
}

// Writer is the part of the store Apply writes to.
type Writer interface {
	UpsertModel(ctx context.Context, m store.ModelRecord) error
	SetModulePreference(ctx context.Context, p store.ModulePreference) error
}

// Apply upserts every model and preference in f.
func Apply(ctx context.Context, w Writer, f *File) error {
	for _, m := range f.Models {
		rec, err := m.Record()
		if err != nil {
			return err
		}
		if err := w.UpsertModel(ctx, rec); err != nil {
			return fmt.Errorf("seed model %s: %w", m.ID, err)
		}
	}
	for _, p := range f.ModulePreferences {
		if err := w.SetModulePreference(ctx, p); err != nil {
			return fmt.Errorf("seed preference %s/%s: %w", p.Module, p.ModelID, err)
		}
	}
	slog.Info("seed applied",
		slog.Int("models", len(f.Models)),
		slog.Int("module_preferences", len(f.ModulePreferences)),
	)
	return nil
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envPattern.ReplaceAllStringFunc(content, func(match string) string {
		sub := envPattern.FindStringSubmatch(match)
		if v := os.Getenv(strings.TrimSpace(sub[1])); v != "" {
			return v
		}
		return sub[2]
	})
}
