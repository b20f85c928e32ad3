package gallery

import (
	"fmt"
	"os"
	"strings"

	"github.com/DRSN-tech/template-matcher/internal/domain"
	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/jimlawless/whereami"
	"gopkg.in/yaml.v3"
)

type manifestFile struct {
	Templates []manifestEntry `yaml:"templates"`
}

type manifestEntry struct {
	Name  string `yaml:"name"`
	Image string `yaml:"image"`
}

// ParseManifest разбирает YAML-манифест галереи, сохраняя порядок объявления.
// Пустые и повторяющиеся имена отклоняются.
func ParseManifest(data []byte) ([]domain.Template, error) {
	var m manifestFile
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), fmt.Errorf("%w: %w", e.ErrInvalidManifest, err))
	}

	seen := make(map[string]struct{}, len(m.Templates))
	templates := make([]domain.Template, 0, len(m.Templates))
	for i, entry := range m.Templates {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: entry %d has empty name", e.ErrInvalidManifest, i)
		}
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("%w: %q", e.ErrDuplicateTemplate, name)
		}
		seen[name] = struct{}{}

		image := strings.TrimSpace(entry.Image)
		if image == "" {
			return nil, fmt.Errorf("%w: template %q has no image", e.ErrInvalidManifest, name)
		}

		templates = append(templates, domain.NewTemplate(name, image))
	}

	return templates, nil
}

// LoadManifest читает манифест из файла или, если путь пуст, берёт встроенный.
func LoadManifest(path string, embedded []byte) ([]domain.Template, error) {
	if path == "" {
		return ParseManifest(embedded)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return ParseManifest(data)
}
