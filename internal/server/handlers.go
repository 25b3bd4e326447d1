package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/shgupte/sous/internal/observe"
	"github.com/shgupte/sous/internal/recipe"
	"github.com/shgupte/sous/internal/resilience"
)

const maxRequestBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return false
	}
	return true
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to Sous!"})
}

// ── Recipe endpoints ──────────────────────────────────────────────────────────

type recipeSubmission struct {
	RecipeID string `json:"recipe_id"`
	UserID   string `json:"user_id"`
	Title    string `json:"title"`
	Text     string `json:"text"`
	Source   string `json:"source"`
}

func (s *Server) handleUploadRecipe(w http.ResponseWriter, r *http.Request) {
	var sub recipeSubmission
	if !decodeBody(w, r, &sub) {
		return
	}
	if sub.RecipeID == "" || sub.UserID == "" {
		writeError(w, http.StatusBadRequest, errors.New("recipe_id and user_id are required"))
		return
	}
	if sub.Text == "" {
		writeError(w, http.StatusBadRequest, errors.New("text is required"))
		return
	}

	src := recipe.Source(sub.Source)
	if src == "" {
		src = recipe.SourceText
	}
	rec := recipe.Recipe{
		ID:        sub.RecipeID,
		UserID:    sub.UserID,
		Title:     sub.Title,
		Source:    src,
		Text:      sub.Text,
		CreatedAt: time.Now().UTC(),
	}

	chunks := s.chunker.Chunks(rec)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	ctx := r.Context()
	start := time.Now()
	embeddings, err := resilience.ExecuteWithResult(s.embedders,
		func(e recipe.Embedder) ([][]float32, error) {
			return e.EmbedBatch(ctx, texts)
		})
	s.metrics.EmbeddingDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("embed recipe: %w", err))
		return
	}
	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
	}

	if err := s.store.SaveRecipe(ctx, rec, chunks); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("save recipe: %w", err))
		return
	}

	s.metrics.RecordRecipeStored(ctx, string(src))
	slog.Info("recipe stored", "recipe_id", rec.ID, "user_id", rec.UserID, "chunks", len(chunks))
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("upload successful - %d chunks uploaded", len(chunks)),
	})
}

func (s *Server) handleListRecipes(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	recipes, err := s.store.ListRecipes(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("list recipes: %w", err))
		return
	}

	// ?title= runs a fuzzy lookup over the user's recipe titles, tolerant of
	// the mangling that speech transcription introduces.
	if query := r.URL.Query().Get("title"); query != "" {
		match, score, ok := s.matcher.Match(query, recipes)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("no recipe matching %q", query))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"recipe": match, "score": score})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"recipes": recipes})
}

func (s *Server) handleGetRecipe(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetRecipe(r.Context(), r.PathValue("user_id"), r.PathValue("recipe_id"))
	if errors.Is(err, recipe.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("get recipe: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recipe": rec})
}

func (s *Server) handleDeleteRecipe(w http.ResponseWriter, r *http.Request) {
	userID, recipeID := r.PathValue("user_id"), r.PathValue("recipe_id")
	err := s.store.DeleteRecipe(r.Context(), userID, recipeID)
	if errors.Is(err, recipe.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("delete recipe: %w", err))
		return
	}
	slog.Info("recipe deleted", "recipe_id", recipeID, "user_id", userID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "delete successful"})
}

// ── Parse endpoint ────────────────────────────────────────────────────────────

type parseRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleParseRecipe(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}

	ctx := r.Context()
	source := string(recipe.SourceWeb)

	var (
		text string
		err  error
	)
	start := time.Now()
	if _, vidErr := recipe.ExtractVideoID(req.URL); vidErr == nil {
		source = string(recipe.SourceYouTube)
		text, err = s.ytParser.FetchTranscript(ctx, req.URL)
	} else {
		text, err = s.webParser.FetchRecipe(ctx, req.URL)
	}
	s.metrics.ParseDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("source", source)))

	switch {
	case errors.Is(err, recipe.ErrNoContent), errors.Is(err, recipe.ErrNoTranscript):
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, fmt.Errorf("parse recipe: %w", err))
		return
	}

	if s.cond != nil {
		condensed, err := s.cond.Condense(ctx, text)
		if err != nil {
			// A raw transcript is still useful. Surface it instead of failing.
			slog.Warn("condense failed, returning raw text", "url", req.URL, "err", err)
		} else {
			text = condensed
		}
	}

	slog.Info("recipe parsed", "url", req.URL, "source", source, "chars", len(text))
	writeJSON(w, http.StatusOK, map[string]string{"message": text, "source": source})
}
