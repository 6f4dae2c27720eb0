package citation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"litground/internal/models"
	"litground/internal/util"
)

// ParseCitationPair pulls a [full, short] list out of free model text.
// Prose before the first '[' and after the last ']' is ignored; both JSON and
// single-quoted list literals are accepted.
func ParseCitationPair(raw string) (models.Citation, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return models.Citation{}, fmt.Errorf("%w: no bracketed list", util.ErrMalformedCitation)
	}
	inner := raw[start : end+1]
	var items []string
	if err := json.Unmarshal([]byte(inner), &items); err != nil {
		items, err = parseQuotedList(inner)
		if err != nil {
			return models.Citation{}, err
		}
	}
	kept := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			kept = append(kept, it)
		}
	}
	if len(kept) < 2 {
		return models.Citation{}, fmt.Errorf("%w: expected two elements, got %d", util.ErrMalformedCitation, len(kept))
	}
	return models.Citation{Full: kept[0], Short: kept[1]}, nil
}

func parseQuotedList(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	var (
		out []string
		i   int
	)
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ',':
			i++
		case c == '"' || c == '\'':
			var b strings.Builder
			j := i + 1
			closed := false
			for j < len(s) {
				if s[j] == '\\' && j+1 < len(s) {
					b.WriteByte(s[j+1])
					j += 2
					continue
				}
				if s[j] == c {
					closed = true
					break
				}
				b.WriteByte(s[j])
				j++
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated string at offset %d", util.ErrMalformedCitation, i)
			}
			out = append(out, b.String())
			i = j + 1
		default:
			return nil, fmt.Errorf("%w: unexpected %q at offset %d", util.ErrMalformedCitation, c, i)
		}
	}
	return out, nil
}

var yearParen = regexp.MustCompile(`\((\d{4})[a-z]?[,)]`)

// SplitFullCitation reads the author block and year from an APA reference.
func SplitFullCitation(full string) (authors string, year int) {
	loc := yearParen.FindStringSubmatchIndex(full)
	if loc == nil {
		return "", 0
	}
	year, _ = strconv.Atoi(full[loc[2]:loc[3]])
	authors = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(full[:loc[0]]), ".,"))
	return authors, year
}

// ShortFromFull derives an APA in-text citation: "(Smith, 2018)",
// "(Smith & Lee, 2018)" or "(Smith et al., 2018)".
func ShortFromFull(full string) string {
	authors, year := SplitFullCitation(full)
	if authors == "" {
		return ""
	}
	left, right, paired := strings.Cut(authors, "&")
	lead := surname(left)
	switch {
	case paired && !strings.Contains(right, "&") && surname(right) != "" &&
		strings.Count(strings.TrimRight(strings.TrimSpace(left), ","), ",") <= 1:
		lead += " & " + surname(right)
	case paired || strings.Count(authors, ",") > 1:
		lead += " et al."
	}
	if year == 0 {
		return "(" + lead + ", n.d.)"
	}
	return fmt.Sprintf("(%s, %d)", lead, year)
}

func surname(author string) string {
	return strings.TrimSpace(strings.SplitN(strings.TrimSpace(author), ",", 2)[0])
}
