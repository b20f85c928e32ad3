// Package fs хранит изображения шаблонов в локальной директории.
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/DRSN-tech/template-matcher/internal/domain"
	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/jimlawless/whereami"
)

// TemplateRepo разрешает ImageRef шаблона относительно корневой директории.
type TemplateRepo struct {
	dir string
}

func NewTemplateRepo(dir string) *TemplateRepo {
	return &TemplateRepo{dir: dir}
}

// Materialize возвращает путь к файлу шаблона. Выход за пределы директории невозможен.
func (r *TemplateRepo) Materialize(ctx context.Context, template domain.Template) (domain.ResourceLocator, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(r.dir, filepath.Clean("/"+template.ImageRef))

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", e.ErrTemplateNotFound, template.ImageRef)
		}
		return "", e.Wrap(whereami.WhereAmI(), err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", e.ErrTemplateNotFound, template.ImageRef)
	}

	return domain.ResourceLocator(path), nil
}
