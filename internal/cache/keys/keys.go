// Package keys builds deterministic Redis keys for cached geometry payloads
// and map tiles.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/paulmach/orb/maptile"
)

const (
	geomPrefix = "geom"
	tilePrefix = "tile"
)

// Geometry keys one raw payload: the layer, the H3 cell of the query center
// at res, and a hash over the exact box and source so neighbouring queries in
// the same cell do not collide.
func Geometry(layer string, res int, cell, source, bbox string) string {
	layerNorm := sanitize(strings.TrimSpace(layer))
	sum := xxhash.Sum64String(strings.TrimSpace(source) + "|" + bbox)
	return fmt.Sprintf("%s:%s:%d:%s:f=%016x", geomPrefix, layerNorm, res, cell, sum)
}

// GeometryCellPattern matches every geometry key of layer in cell; an empty
// layer matches all layers.
func GeometryCellPattern(layer string, res int, cell string) string {
	l := sanitize(strings.TrimSpace(layer))
	if l == "" {
		l = "*"
	}
	return fmt.Sprintf("%s:%s:%d:%s:*", geomPrefix, l, res, cell)
}

// Tile keys one tile image of a source. Sources are hashed since they are
// usually URL templates.
func Tile(source string, t maptile.Tile) string {
	return fmt.Sprintf("%s:%016x:%d/%d/%d", tilePrefix, xxhash.Sum64String(source), t.Z, t.X, t.Y)
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			// Any other rune (including ':' and non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r <= unicode.MaxASCII && unicode.IsDigit(r))
}
