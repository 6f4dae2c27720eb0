package search

import (
	"regexp"
	"strings"

	"litground/internal/models"
)

var phraseToken = regexp.MustCompile(`"[^"]*"|\S+`)

// ParsePhrases reads a search-box string such as `"audit quality" OR "tax"`.
// Quoted text is one phrase; bare words between AND/OR keywords form a phrase.
// Without a keyword the combinator is AND.
func ParsePhrases(raw string) ([]string, models.Combinator) {
	comb := models.CombineAnd
	phrases := make([]string, 0, 4)
	var words []string
	flush := func() {
		if len(words) > 0 {
			phrases = append(phrases, strings.Join(words, " "))
			words = words[:0]
		}
	}
	for _, tok := range phraseToken.FindAllString(raw, -1) {
		switch {
		case tok == "AND" || tok == "OR":
			flush()
			comb = models.Combinator(tok)
		case strings.HasPrefix(tok, `"`) && strings.HasSuffix(tok, `"`) && len(tok) >= 2:
			flush()
			if p := strings.TrimSpace(tok[1 : len(tok)-1]); p != "" {
				phrases = append(phrases, p)
			}
		default:
			words = append(words, tok)
		}
	}
	flush()
	return phrases, comb
}
