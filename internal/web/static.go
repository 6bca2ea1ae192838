package web

import "embed"

// staticFiles is the LCD mirror page and its assets.
//
//go:embed static/*
var staticFiles embed.FS
