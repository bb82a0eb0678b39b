package index

import (
	"strings"
	"unicode"
)

// Split cuts text into windows of at most size runes that overlap by overlap
// runes. A window prefers to end at the last whitespace inside its final
// fifth so words are not split mid-way.
func Split(text string, size, overlap int) []string {
	runes := []rune(strings.TrimSpace(text))
	n := len(runes)
	if n == 0 || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 4
	}

	var chunks []string
	start := 0
	for start < n {
		end := min(start+size, n)
		if end < n {
			floor := max(end-size/5, start)
			for i := end - 1; i > floor; i-- {
				if unicode.IsSpace(runes[i]) {
					end = i
					break
				}
			}
		}
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= n {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}
