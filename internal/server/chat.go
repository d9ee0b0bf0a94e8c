package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/plantai-go/internal/logging"
	"github.com/54b3r/plantai-go/internal/rag"
)

// handleChat handles POST /chat: embed the question, retrieve the nearest
// chunks and ask the model, returning the answer with its sources.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	if !s.parseForm(w, r) {
		return
	}
	defer cleanupForm(r)
	if !s.authorizeForm(w, r) {
		return
	}

	question := strings.TrimSpace(r.PostFormValue("question"))
	if question == "" {
		writeDetail(w, http.StatusBadRequest, "question is required")
		return
	}

	outcome := "error"
	defer func() {
		s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
		s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
	}()

	hits, err := s.deps.Retriever.Retrieve(r.Context(), question)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, "retrieval failed", err)
		return
	}
	s.metrics.chatSources.Observe(float64(len(hits)))

	answer, err := s.deps.Answerer.Answer(r.Context(), question, hits)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, "answer generation failed", err)
		return
	}

	if hits == nil {
		hits = []rag.Hit{}
	}
	outcome = "ok"
	logging.FromContext(r.Context()).Info("chat: answered",
		slog.Int("sources", len(hits)),
		slog.Duration("duration", time.Since(started)),
	)
	writeJSON(w, http.StatusOK, chatResponse{Answer: answer, Sources: hits})
}
