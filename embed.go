package medigem

import "embed"

// TemplateFS contains the embedded HTML templates of the browser chat page, split into layout, pages
// and partial views.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the embedded static assets of the browser chat page, including the script that
// consumes the relay's event stream.
//
//go:embed static/*
var StaticFS embed.FS
