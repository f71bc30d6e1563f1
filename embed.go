package captioner

import "embed"

// WebFiles holds the HTML templates for the upload form and result page.
//
//go:embed web/*.html
var WebFiles embed.FS
