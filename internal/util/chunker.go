package util

import "strings"

// ChunkText splits text into rune windows of chunkSize that overlap by overlap runes.
func ChunkText(text string, chunkSize, overlap int) []string {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}
	runes := []rune(text)
	step := chunkSize - overlap
	out := make([]string, 0, len(runes)/step+1)
	for i := 0; i < len(runes); i += step {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		part := strings.TrimSpace(string(runes[i:end]))
		if part != "" {
			out = append(out, part)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

type PageWindow struct {
	Page  int
	Index int
	Text  string
}

// ChunkPages windows every page independently. Pages are 1-based and the
// window index restarts at 0 on each page.
func ChunkPages(pages []string, chunkSize, overlap int) []PageWindow {
	out := make([]PageWindow, 0, len(pages))
	for p, text := range pages {
		text = SanitizeText(text)
		if text == "" {
			continue
		}
		for i, part := range ChunkText(text, chunkSize, overlap) {
			out = append(out, PageWindow{Page: p + 1, Index: i, Text: part})
		}
	}
	return out
}
