// Package fuzzy folds artist and track strings into comparable keys so that
// "Björk", "bjork" and "BJÖRK " count as the same seed.
package fuzzy

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	featRegex       = regexp.MustCompile(`(?i)\s*[\(\[]?\s*(?:feat\.?|ft\.?|featuring)\s+[^\)\]]*[\)\]]?\s*`)
	remixRegex      = regexp.MustCompile(`(?i)\s*[\(\[][^\)\]]*remix[^\)\]]*[\)\]]\s*`)
	versionRegex    = regexp.MustCompile(`(?i)\s*[\(\[]?\s*(remaster|remastered|deluxe|extended|radio edit|live|acoustic).*[\)\]]?\s*`)
	punctRegex      = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// ArtistKey folds an artist name into a canonical comparison key: accents
// stripped, punctuation dropped, joiner words unified, lower case.
func ArtistKey(artist string) string {
	artist = fold(artist)
	artist = strings.ReplaceAll(artist, " and ", " & ")
	artist = strings.ReplaceAll(artist, " vs ", " vs. ")
	return artist
}

// TitleKey folds a track title into a canonical comparison key. Decorations
// like "(feat. X)", "(Remix)" or "(Remastered)" are stripped so variants of
// the same track compare equal.
func TitleKey(title string) string {
	title = featRegex.ReplaceAllString(title, " ")
	title = remixRegex.ReplaceAllString(title, " ")
	title = versionRegex.ReplaceAllString(title, " ")
	return fold(title)
}

func fold(text string) string {
	text = norm.NFKD.String(text)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if !unicode.IsMark(r) {
			b.WriteRune(r)
		}
	}
	text = b.String()

	text = punctRegex.ReplaceAllString(text, " ")
	text = whitespaceRegex.ReplaceAllString(text, " ")

	return strings.TrimSpace(strings.ToLower(text))
}
