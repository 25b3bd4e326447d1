package recipe

import "strings"

// Context assembly limits. The agent's function-call responses should stay
// small enough to keep voice latency low.
const (
	DefaultContextChunks = 6
	DefaultContextChars  = 6000

	contextSeparator = "\n\n---\n\n"
)

// NoContextMessage is returned to the agent when retrieval produced nothing
// usable. The agent reads it out instead of hallucinating recipe details.
const NoContextMessage = "There is no available context for this query."

// BuildContext joins the best-matching chunks into a single context string
// for the agent. At most maxChunks chunks are used and the result is capped
// at maxChars characters. Non-positive limits fall back to the defaults.
func BuildContext(results []ChunkResult, maxChunks, maxChars int) string {
	if maxChunks <= 0 {
		maxChunks = DefaultContextChunks
	}
	if maxChars <= 0 {
		maxChars = DefaultContextChars
	}

	if len(results) > maxChunks {
		results = results[:maxChunks]
	}

	parts := make([]string, 0, len(results))
	for _, r := range results {
		if c := strings.TrimSpace(r.Chunk.Content); c != "" {
			parts = append(parts, c)
		}
	}
	if len(parts) == 0 {
		return NoContextMessage
	}

	context := strings.Join(parts, contextSeparator)
	if len(context) > maxChars {
		context = context[:maxChars]
	}
	return context
}
