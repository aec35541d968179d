package exercise

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/felixgeelhaar/drill/internal/domain"
	"gopkg.in/yaml.v3"
)

// TopicFile represents the YAML structure for a topic pool file
type TopicFile struct {
	Slug           string            `yaml:"slug"`
	DefaultPurpose string            `yaml:"default_purpose"`
	Pool           []domain.PoolItem `yaml:"pool"`
}

// Loader reads topic pool files that override built-in definitions
type Loader struct {
	basePath string
}

// NewLoader creates a new topic loader
func NewLoader(basePath string) *Loader {
	return &Loader{basePath: basePath}
}

// BasePath returns the directory topic files are read from
func (l *Loader) BasePath() string {
	return l.basePath
}

// LoadTopic reads basePath/<slug>.yaml
func (l *Loader) LoadTopic(slug string) (*TopicFile, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, slug+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("read topic file: %w", err)
	}

	var tf TopicFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse topic file: %w", err)
	}
	if tf.Slug == "" {
		tf.Slug = slug
	}
	if tf.Slug != slug {
		return nil, fmt.Errorf("%w: topic file %s.yaml declares slug %q", domain.ErrInvalidInput, slug, tf.Slug)
	}
	for _, item := range tf.Pool {
		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("topic %s: %w", slug, err)
		}
	}

	return &tf, nil
}

// Apply overlays topic files onto defs. A file replaces the default pool and
// purpose of the definition with the same slug; handlers always come from defs.
// Files with no matching definition are skipped with a warning.
func (l *Loader) Apply(defs []Definition) ([]Definition, error) {
	out := make([]Definition, len(defs))
	copy(out, defs)

	if l.basePath == "" {
		return out, nil
	}

	entries, err := os.ReadDir(l.basePath)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read topics directory: %w", err)
	}

	index := make(map[string]int, len(out))
	for i, d := range out {
		index[d.Slug] = i
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		slug := strings.TrimSuffix(name, ".yaml")

		i, ok := index[slug]
		if !ok {
			slog.Warn("topic file has no handlers, skipping", "file", name)
			continue
		}

		tf, err := l.LoadTopic(slug)
		if err != nil {
			return nil, fmt.Errorf("load topic %s: %w", slug, err)
		}

		if tf.DefaultPurpose != "" {
			out[i].DefaultPurpose = domain.NormalizePurpose(tf.DefaultPurpose, out[i].DefaultPurpose)
		}
		if len(tf.Pool) > 0 {
			out[i].DefaultPool = tf.Pool
		}
		slog.Debug("topic pool overridden", "topic", slug, "items", len(tf.Pool))
	}

	return out, nil
}

// BuildRegistry freezes definitions into a registry
func BuildRegistry(defs []Definition) (*Registry, error) {
	bundles := make([]*Bundle, 0, len(defs))
	for _, d := range defs {
		b, err := NewBundle(d)
		if err != nil {
			return nil, fmt.Errorf("build topic %s: %w", d.Slug, err)
		}
		bundles = append(bundles, b)
	}
	return NewRegistry(bundles...)
}
