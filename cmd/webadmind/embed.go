package main

import "embed"

// StaticFS embeds the stylesheet and other assets served next to the dashboard.
//
//go:embed all:static
var StaticFS embed.FS
