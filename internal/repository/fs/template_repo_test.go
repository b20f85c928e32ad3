package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DRSN-tech/template-matcher/internal/domain"
	"github.com/DRSN-tech/template-matcher/pkg/e"
)

func TestMaterialize(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cat.png"), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}

	repo := NewTemplateRepo(dir)

	tests := []struct {
		name     string
		imageRef string
		want     string
		wantErr  error
	}{
		{"existing file", "cat.png", filepath.Join(dir, "cat.png"), nil},
		{"missing file", "dog.png", "", e.ErrTemplateNotFound},
		{"directory", "nested", "", e.ErrTemplateNotFound},
		{"traversal stays inside root", "../../cat.png", filepath.Join(dir, "cat.png"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := repo.Materialize(context.Background(), domain.NewTemplate("t", tt.imageRef))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Materialize: %v", err)
			}
			if string(loc) != tt.want {
				t.Errorf("locator = %q, want %q", loc, tt.want)
			}
		})
	}
}
