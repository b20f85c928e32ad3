// Package assets содержит встроенные в бинарник ресурсы.
package assets

import _ "embed"

// TemplatesManifest — манифест галереи шаблонов по умолчанию.
//
//go:embed templates/manifest.yaml
var TemplatesManifest []byte
