// Package defs embeds the default format constants, schema definitions and
// enum tables for .dat headers.
package defs

import "embed"

// FS holds misc.toml, specs/v<N>.tsv and enums/<Field>.tsv.
//
//go:embed misc.toml specs/*.tsv enums/*.tsv
var FS embed.FS
