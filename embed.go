// Package devproxy embeds the placeholder site served when no frontend is
// configured.
package devproxy

import "embed"

//go:embed web/dist
var WebFS embed.FS
