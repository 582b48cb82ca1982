package web

import "embed"

// FS contains the live view assets (HTML, CSS, JS).
//
//go:embed *.html *.css *.js
var FS embed.FS
