package recipe_test

import (
	"strings"
	"testing"

	"github.com/shgupte/sous/internal/recipe"
)

func TestChunker_ShortTextIsSingleChunk(t *testing.T) {
	t.Parallel()
	c := recipe.NewChunker(1000, 200)

	text := "Boil water. Add pasta. Cook for 9 minutes."
	chunks := c.Split(text)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0] != text {
		t.Errorf("chunk = %q, want original text", chunks[0])
	}
}

func TestChunker_EmptyText(t *testing.T) {
	t.Parallel()
	c := recipe.NewChunker(1000, 200)
	if chunks := c.Split("   \n  "); len(chunks) != 0 {
		t.Errorf("got %d chunks for blank text, want 0", len(chunks))
	}
}

func TestChunker_RespectsMaxSize(t *testing.T) {
	t.Parallel()
	c := recipe.NewChunker(100, 20)

	// 40 lines of instructions, far beyond one chunk.
	var b strings.Builder
	for range 40 {
		b.WriteString("Stir the sauce gently over low heat.\n")
	}
	chunks := c.Split(b.String())

	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i, ch := range chunks {
		// A boundary found past the limit may extend a chunk slightly.
		if len(ch) > 150 {
			t.Errorf("chunk %d length = %d, exceeds limit too far", i, len(ch))
		}
	}
}

func TestChunker_PrefersLineBoundaries(t *testing.T) {
	t.Parallel()
	c := recipe.NewChunker(100, 20)

	var b strings.Builder
	for range 10 {
		b.WriteString("Chop the onions and saute until golden brown in butter.\n")
	}
	chunks := c.Split(b.String())

	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	// Every cut should land on a line boundary, so no chunk starts or ends
	// mid-word.
	for i, ch := range chunks {
		if strings.HasSuffix(ch, "butt") || strings.HasPrefix(ch, "er.") {
			t.Errorf("chunk %d split mid-word: %q", i, ch)
		}
	}
}

func TestChunker_ConsecutiveChunksOverlap(t *testing.T) {
	t.Parallel()
	c := recipe.NewChunker(100, 30)

	// Continuous text with no break characters forces hard cuts, making the
	// overlap observable.
	text := strings.Repeat("abcdefghij", 30)
	chunks := c.Split(text)

	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		tail := chunks[i-1][len(chunks[i-1])-30:]
		if !strings.HasPrefix(chunks[i], tail) {
			t.Errorf("chunk %d does not start with the previous chunk's tail", i)
		}
	}
}

func TestChunker_CoversWholeText(t *testing.T) {
	t.Parallel()
	c := recipe.NewChunker(100, 20)

	text := strings.Repeat("abcdefghij", 25)
	chunks := c.Split(text)

	if !strings.HasPrefix(text, chunks[0]) {
		t.Error("first chunk is not a prefix of the text")
	}
	last := chunks[len(chunks)-1]
	if !strings.HasSuffix(text, last) {
		t.Error("last chunk is not a suffix of the text")
	}
}

func TestChunker_DefaultsOnInvalidParams(t *testing.T) {
	t.Parallel()
	c := recipe.NewChunker(0, -1)

	text := strings.Repeat("x", recipe.DefaultChunkSize)
	if chunks := c.Split(text); len(chunks) != 1 {
		t.Errorf("text at default max size should be one chunk, got %d", len(chunks))
	}
}

func TestChunker_ChunksCarryIdentity(t *testing.T) {
	t.Parallel()
	c := recipe.NewChunker(100, 20)

	r := recipe.Recipe{
		ID:     "42",
		UserID: "7",
		Text:   strings.Repeat("Simmer and season to taste.\n", 20),
	}
	chunks := c.Chunks(r)

	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i, ch := range chunks {
		if ch.ID != recipe.ChunkID("42", "7", i) {
			t.Errorf("chunk %d ID = %q", i, ch.ID)
		}
		if ch.Index != i || ch.Total != len(chunks) {
			t.Errorf("chunk %d index/total = %d/%d", i, ch.Index, ch.Total)
		}
		if ch.RecipeID != "42" || ch.UserID != "7" {
			t.Errorf("chunk %d ownership = %s/%s", i, ch.RecipeID, ch.UserID)
		}
	}
}
