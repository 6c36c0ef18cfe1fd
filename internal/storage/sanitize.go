package storage

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var unsafeNameChars = regexp.MustCompile(`[^a-z0-9_-]`)

// SanitizeBaseName turns an arbitrary label into a safe file name token.
// Accents are folded first so "Zoë" becomes "zoe" rather than "zo_".
func SanitizeBaseName(name string) string {
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, name)
	if err != nil {
		folded = name
	}
	token := unsafeNameChars.ReplaceAllString(strings.ToLower(folded), "_")
	if token == "" {
		return "image"
	}
	return token
}
