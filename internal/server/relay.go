package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/shgupte/sous/internal/assist"
	"github.com/shgupte/sous/internal/recipe"
	"github.com/shgupte/sous/internal/resilience"
)

// Sentinels that end the relay group when one side of the bridge finishes
// cleanly. Either one cancels the group context so the remaining pumps, which
// block on the other side, unwind as well.
var (
	errClientGone = errors.New("client closed session")
	errAgentGone  = errors.New("agent closed session")
)

// isCleanEnd reports whether a relay pump error describes a normal session
// end rather than a failure.
func isCleanEnd(err error) bool {
	return errors.Is(err, errClientGone) ||
		errors.Is(err, errAgentGone) ||
		errors.Is(err, context.Canceled)
}

// handleListen bridges a client WebSocket to an upstream agent session. Binary
// frames from the client are forwarded to the agent; the agent's synthesised
// audio and conversation text flow back. Retrieval requests from the agent are
// answered from the recipe store, scoped to the user and recipe in the path.
func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	userID, recipeID := r.PathValue("user_id"), r.PathValue("recipe_id")
	if s.agent == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("voice agent not configured"))
		return
	}

	client, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}
	client.SetReadLimit(1 << 22)

	ctx := r.Context()
	s.metrics.ActiveVoiceSessions.Add(ctx, 1)
	defer s.metrics.ActiveVoiceSessions.Add(context.WithoutCancel(ctx), -1)

	start := time.Now()
	var sess *assist.Session
	err = s.agentBreaker.Execute(func() error {
		var connErr error
		sess, connErr = s.agent.Connect(ctx)
		return connErr
	})
	s.metrics.AgentConnectDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		slog.Error("agent connect failed", "err", err, "user_id", userID)
		s.metrics.RecordAgentError(ctx, "connect")
		client.Close(websocket.StatusInternalError, "agent unavailable")
		return
	}
	defer sess.Close()

	sess.OnError(func(err error) {
		slog.Warn("agent error", "err", err, "user_id", userID, "recipe_id", recipeID)
		s.metrics.RecordAgentError(ctx, "event")
	})
	sess.OnFunctionCall(func(name, arguments string) (string, error) {
		return s.ragContext(ctx, userID, recipeID, name, arguments)
	})

	slog.Info("voice session started", "user_id", userID, "recipe_id", recipeID)

	g, gctx := errgroup.WithContext(ctx)

	// Client to agent: raw PCM16 upstream. Text frames carry turn control
	// which the agent infers from the audio itself, so they are not relayed.
	// A clean client close must still cancel the group: the other pumps block
	// on session channels that only close once the upstream ends, and the
	// upstream is closed after Wait returns.
	g.Go(func() error {
		for {
			typ, data, err := client.Read(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
					return errClientGone
				}
				return fmt.Errorf("client read: %w", err)
			}
			if typ != websocket.MessageBinary {
				slog.Debug("client control message", "data", string(data))
				continue
			}
			if err := sess.SendAudio(data); err != nil {
				return fmt.Errorf("agent send: %w", err)
			}
			s.metrics.AudioFramesIn.Add(gctx, 1)
		}
	})

	// Agent audio to client.
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case audio, ok := <-sess.Audio():
				if !ok {
					if err := sess.Err(); err != nil {
						return err
					}
					return errAgentGone
				}
				if err := client.Write(gctx, websocket.MessageBinary, audio); err != nil {
					return fmt.Errorf("client write: %w", err)
				}
				s.metrics.AudioFramesOut.Add(gctx, 1)
			}
		}
	})

	// Agent text to client: conversation transcripts forwarded verbatim.
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case text, ok := <-sess.Text():
				if !ok {
					return errAgentGone
				}
				if err := client.Write(gctx, websocket.MessageText, []byte(text)); err != nil {
					return fmt.Errorf("client write: %w", err)
				}
			}
		}
	})

	err = g.Wait()
	if err != nil && !isCleanEnd(err) {
		slog.Warn("voice session ended with error", "err", err, "user_id", userID)
		s.metrics.RecordAgentError(context.WithoutCancel(ctx), "relay")
		client.Close(websocket.StatusInternalError, "relay error")
		return
	}

	slog.Info("voice session ended", "user_id", userID, "recipe_id", recipeID)
	client.Close(websocket.StatusNormalClosure, "session ended")
}

// ── Retrieval ─────────────────────────────────────────────────────────────────

type ragArguments struct {
	Question string `json:"question"`
}

// ragContext answers the agent's retrieval function call: embed the question,
// search the recipe's chunks and assemble a bounded context string.
func (s *Server) ragContext(ctx context.Context, userID, recipeID, name, arguments string) (string, error) {
	if name != assist.RAGFunctionName {
		s.metrics.RecordFunctionCall(ctx, name, "unknown")
		return "", fmt.Errorf("unknown function %q", name)
	}

	var args ragArguments
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		s.metrics.RecordFunctionCall(ctx, name, "error")
		return "", fmt.Errorf("decode arguments: %w", err)
	}
	if args.Question == "" {
		s.metrics.RecordFunctionCall(ctx, name, "error")
		return "", errors.New("question argument is required")
	}

	start := time.Now()
	embedding, err := resilience.ExecuteWithResult(s.embedders,
		func(e recipe.Embedder) ([]float32, error) {
			return e.Embed(ctx, args.Question)
		})
	s.metrics.EmbeddingDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordFunctionCall(ctx, name, "error")
		return "", fmt.Errorf("embed question: %w", err)
	}

	maxChunks := s.cfg.Recipes.ContextChunks
	if maxChunks <= 0 {
		maxChunks = recipe.DefaultContextChunks
	}

	start = time.Now()
	results, err := s.store.SearchChunks(ctx, userID, recipeID, embedding, maxChunks)
	s.metrics.RetrievalDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordFunctionCall(ctx, name, "error")
		return "", fmt.Errorf("search chunks: %w", err)
	}

	s.metrics.RecordFunctionCall(ctx, name, "ok")
	slog.Debug("retrieval served", "user_id", userID, "recipe_id", recipeID,
		"question_len", len(args.Question), "chunks", len(results))
	return recipe.BuildContext(results, maxChunks, recipe.DefaultContextChars), nil
}
