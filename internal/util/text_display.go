package util

import (
	"sort"
	"strings"
	"unicode"
)

const (
	defaultDisplayRunes = 420
	evidenceScanRunes   = 4000
	evidenceSentences   = 2
)

var queryStopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "were": {}, "what": {},
	"how": {}, "why": {}, "which": {}, "that": {}, "this": {}, "these": {}, "those": {},
	"with": {}, "from": {}, "across": {}, "does": {}, "did": {}, "about": {},
}

// DisplaySnippet cleans extracted text for a label or list row and cuts it to maxRunes.
func DisplaySnippet(s string, maxRunes int) string {
	return cutRunes(cleanDisplayText(s), maxRunes)
}

// DisplayEvidenceSnippet keeps the sentences of a chunk that share the most
// terms with query, in reading order, within maxRunes. A chunk with no
// matching sentence is shown from its start.
func DisplayEvidenceSnippet(chunkText, query string, maxRunes int) string {
	text := cutRunes(cleanDisplayText(chunkText), evidenceScanRunes)
	if text == "" {
		return ""
	}
	terms := queryTerms(query)
	sentences := splitSentences(text)
	if len(terms) == 0 || len(sentences) == 0 {
		return cutRunes(text, maxRunes)
	}

	scores := make([]int, len(sentences))
	ranked := make([]int, 0, len(sentences))
	for i, s := range sentences {
		scores[i] = termHits(s, terms)
		if scores[i] > 0 {
			ranked = append(ranked, i)
		}
	}
	if len(ranked) == 0 {
		return cutRunes(text, maxRunes)
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		i, j := ranked[a], ranked[b]
		if scores[i] != scores[j] {
			return scores[i] > scores[j]
		}
		return len(sentences[i]) < len(sentences[j])
	})
	if len(ranked) > evidenceSentences {
		ranked = ranked[:evidenceSentences]
	}
	sort.Ints(ranked)

	picked := make([]string, 0, len(ranked))
	for _, i := range ranked {
		picked = append(picked, sentences[i])
	}
	return cutRunes(strings.Join(picked, " "), maxRunes)
}

func termHits(sentence string, terms []string) int {
	low := strings.ToLower(sentence)
	n := 0
	for _, t := range terms {
		if strings.Contains(low, t) {
			n++
		}
	}
	return n
}

// splitSentences breaks on terminal punctuation; the remainder counts as a sentence.
func splitSentences(s string) []string {
	var (
		out   []string
		start int
	)
	for i, r := range s {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if x := strings.TrimSpace(s[start : i+1]); x != "" {
			out = append(out, x)
		}
		start = i + 1
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// queryTerms lowercases query and keeps distinct words of three or more
// letters that are not stop words.
func queryTerms(query string) []string {
	seen := map[string]struct{}{}
	var terms []string
	for _, f := range strings.Fields(strings.ToLower(cleanDisplayText(query))) {
		f = strings.Trim(f, ",.;:!?()[]{}\"'`")
		if len(f) < 3 {
			continue
		}
		if _, stop := queryStopWords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

// cleanDisplayText sanitizes PDF text, splits words glued by extraction
// ("auditFees", "Table2") and collapses whitespace.
func cleanDisplayText(s string) string {
	in := []rune(SanitizeText(s))
	out := make([]rune, 0, len(in)+len(in)/8)
	for i, r := range in {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsNumber(r) && !unicode.IsSpace(r) && !unicode.IsPunct(r) {
			continue
		}
		if i > 0 && len(out) > 0 && glued(in[i-1], r) && !unicode.IsSpace(out[len(out)-1]) {
			out = append(out, ' ')
		}
		out = append(out, r)
	}
	return strings.Join(strings.Fields(string(out)), " ")
}

func glued(prev, r rune) bool {
	switch {
	case unicode.IsLower(prev) && unicode.IsUpper(r):
		return true
	case unicode.IsLetter(prev) && unicode.IsDigit(r):
		return true
	case unicode.IsDigit(prev) && unicode.IsLetter(r):
		return true
	}
	return false
}

func cutRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = defaultDisplayRunes
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return strings.TrimSpace(string(runes[:maxRunes])) + "..."
}
