package recipe

import "strings"

// Default chunking parameters. Chunks overlap so that an instruction split
// across a boundary is still retrievable as a whole from one of its chunks.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// boundaryWindow is how far back from the chunk limit a sentence or line
// break is still accepted as the cut point.
const boundaryWindow = 200

// Chunker splits recipe text into overlapping chunks bounded by MaxSize
// characters. Cuts prefer line breaks over sentence ends, since recipe steps
// are usually line-oriented.
type Chunker struct {
	maxSize int
	overlap int
}

// NewChunker returns a Chunker. Non-positive maxSize or overlap fall back to
// the defaults; overlap is clamped below maxSize.
func NewChunker(maxSize, overlap int) *Chunker {
	if maxSize <= 0 {
		maxSize = DefaultChunkSize
	}
	if overlap <= 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= maxSize {
		overlap = maxSize / 2
	}
	return &Chunker{maxSize: maxSize, overlap: overlap}
}

// Split chunks text. Text at most maxSize long comes back as a single chunk.
// Empty chunks after trimming are dropped.
func (c *Chunker) Split(text string) []string {
	if len(text) <= c.maxSize {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	start := 0

	for start < len(text) {
		end := start + c.maxSize

		// Not the last chunk: move the cut to a nearby line or sentence
		// boundary when one falls inside the acceptance window.
		if end < len(text) {
			searchStart := max(start+c.maxSize-100, start)
			searchEnd := min(end+50, len(text))

			lastNewline := strings.LastIndexByte(text[searchStart:searchEnd], '\n')
			if lastNewline >= 0 {
				lastNewline += searchStart
			}
			lastPeriod := strings.LastIndexByte(text[searchStart:searchEnd], '.')
			if lastPeriod >= 0 {
				lastPeriod += searchStart
			}

			// Recipe steps are line-oriented, so newlines win over periods.
			if lastNewline > start+c.maxSize-boundaryWindow {
				end = lastNewline + 1
			} else if lastPeriod > start+c.maxSize-boundaryWindow {
				end = lastPeriod + 1
			}
		}
		if end > len(text) {
			end = len(text)
		}

		if chunk := strings.TrimSpace(text[start:end]); chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
		if start >= len(text) {
			break
		}
	}

	return chunks
}

// Chunks splits a recipe's text and wraps each piece in a [Chunk] with its
// deterministic ID. Embeddings are left nil for the caller to fill in.
func (c *Chunker) Chunks(r Recipe) []Chunk {
	parts := c.Split(r.Text)
	chunks := make([]Chunk, len(parts))
	for i, content := range parts {
		chunks[i] = Chunk{
			ID:       ChunkID(r.ID, r.UserID, i),
			RecipeID: r.ID,
			UserID:   r.UserID,
			Index:    i,
			Total:    len(parts),
			Content:  content,
		}
	}
	return chunks
}
