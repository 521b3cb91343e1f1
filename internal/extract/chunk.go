package extract

import "strings"

// DefaultChunkSize bounds passage length in bytes. Page text below the
// bound stays a single passage, matching page-level indexing; oversized
// pages split on paragraph boundaries first and mid-paragraph as a last
// resort.
const DefaultChunkSize = 2000

// Chunks splits page text into passage-sized pieces of at most maxSize
// bytes. Empty input yields no chunks.
func Chunks(text string, maxSize int) []string {
	if maxSize <= 0 {
		maxSize = DefaultChunkSize
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxSize {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	for _, para := range strings.Split(text, "\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		// Oversized paragraph: flush and hard-split it.
		if len(para) > maxSize {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			chunks = append(chunks, hardSplit(para, maxSize)...)
			continue
		}

		if current.Len() > 0 && current.Len()+1+len(para) > maxSize {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(para)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// hardSplit cuts text into maxSize pieces on rune boundaries.
func hardSplit(text string, maxSize int) []string {
	var chunks []string
	runes := []rune(text)
	var current strings.Builder
	for _, r := range runes {
		if current.Len()+len(string(r)) > maxSize {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
