package gallery

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/DRSN-tech/template-matcher/internal/domain"
	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/jimlawless/whereami"
)

// imageDigest — sha256 от ссылки на изображение и его содержимого.
func imageDigest(t domain.Template, loc domain.ResourceLocator) (string, error) {
	f, err := os.Open(string(loc))
	if err != nil {
		return "", e.Wrap(whereami.WhereAmI(), err)
	}
	defer f.Close()

	h := sha256.New()
	h.Write([]byte(t.ImageRef))
	h.Write([]byte{0})
	if _, err := io.Copy(h, f); err != nil {
		return "", e.Wrap(whereami.WhereAmI(), err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
