package media

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTransformer strips diacritics: decompose, drop combining marks,
// recompose. Built once; transform.Transformer values are stateful so each
// use goes through transform.String which resets state.
var foldTransformer = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

var caseFolder = cases.Fold()

// leading articles stripped when deriving a sort name.
var sortArticles = []string{"the ", "de ", "les ", "las ", "los ", "el ", "la "}

// SortNameOf derives the normalized sort name used for equality and
// ordering comparisons. The derivation is deterministic: case folding,
// diacritic stripping, whitespace collapsing and leading-article removal.
// Providers disagree on spelling and formatting; two names describing the
// same entity must map to the same sort name.
func SortNameOf(name string) string {
	s, _, err := transform.String(foldTransformer, name)
	if err != nil {
		s = name
	}
	s = caseFolder.String(s)
	s = strings.Join(strings.Fields(s), " ")
	for _, article := range sortArticles {
		if strings.HasPrefix(s, article) && len(s) > len(article) {
			s = s[len(article):]
			break
		}
	}
	return s
}

// EqualNames reports whether two names are equal after normalization.
func EqualNames(a, b string) bool {
	return SortNameOf(a) == SortNameOf(b)
}

// CanonicalizeReserved enforces the reserved aggregate-contributor identity:
// an item named like the Various Artists sentinel gets the canonical
// external id, and an item carrying that external id gets the canonical
// name, regardless of which provider supplied it.
func CanonicalizeReserved(c *Core) {
	if EqualNames(c.Name, VariousArtists) {
		c.ExternalID = VariousArtistsID
	}
	if c.ExternalID == VariousArtistsID {
		c.Name = VariousArtists
		c.SortName = SortNameOf(VariousArtists)
	}
}
