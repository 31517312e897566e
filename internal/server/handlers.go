package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"primate-rag/internal/answerer"
	"primate-rag/internal/catalog"
	"primate-rag/internal/domain"
	"primate-rag/internal/logger"
)

// ChatRequest is the body of POST /chat and POST /chat/stream.
type ChatRequest struct {
	Question string           `json:"question" binding:"required"`
	History  []domain.Message `json:"history"`
}

// Source is one retrieved chunk as shown to clients.
type Source struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Year       int     `json:"year,omitempty"`
	Section    string  `json:"section"`
	Score      float64 `json:"score"`
	Text       string  `json:"text,omitempty"`
}

// ChatResponse is the body of a successful POST /chat.
type ChatResponse struct {
	Answer            string              `json:"answer"`
	Citations         []answerer.Citation `json:"citations"`
	Sources           []Source            `json:"sources"`
	RemainingRequests int                 `json:"remaining_requests"`
	RequestID         string              `json:"request_id"`
}

// Paper is one catalog entry in GET /papers.
type Paper struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Year    int    `json:"year,omitempty"`
	Species string `json:"species,omitempty"`
	Topics  string `json:"topics,omitempty"`
	URL     string `json:"url,omitempty"`
	HasCode bool   `json:"has_code"`
}

func sources(results []domain.SearchResult, withText bool) []Source {
	out := make([]Source, len(results))
	for i, r := range results {
		out[i] = Source{
			DocumentID: r.Chunk.DocumentID,
			Title:      r.Chunk.Title,
			Year:       r.Chunk.Year,
			Section:    r.Chunk.Section,
			Score:      r.Score,
		}
		if withText {
			out[i].Text = r.Chunk.Text
		}
	}
	return out
}

func (h *Handler) bind(c *gin.Context) (ChatRequest, bool) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return req, false
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "question must not be empty", nil)
		return req, false
	}
	if len(req.Question) > h.cfg.MaxQuestionLength {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "question is too long", nil)
		return req, false
	}
	return req, true
}

// Chat handles POST /chat.
func (h *Handler) Chat(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	ans, err := h.pipeline.Ask(c.Request.Context(), req.Question, req.History)
	if err != nil {
		status, code := classify(err)
		var extra gin.H
		var upErr *answerer.UpstreamError
		if errors.As(err, &upErr) {
			// Degraded answer: the evidence without generated prose.
			extra = gin.H{"citations": upErr.Citations, "sources": sources(upErr.Sources, true)}
		}
		logger.Warn("chat failed [%s]: %v", c.GetString("request_id"), err)
		fail(c, status, code, err.Error(), extra)
		return
	}
	c.JSON(http.StatusOK, ChatResponse{
		Answer:            ans.Text,
		Citations:         ans.Citations,
		Sources:           sources(ans.Sources, false),
		RemainingRequests: c.GetInt("remaining"),
		RequestID:         c.GetString("request_id"),
	})
}

// ChatStream handles POST /chat/stream with server-sent events: one
// "sources" event, then "token" events, then "done" or "error".
func (h *Handler) ChatStream(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	started := false
	send := func(event string, data any) error {
		if !started {
			started = true
			c.Header("Content-Type", "text/event-stream")
			c.Header("Cache-Control", "no-cache")
			c.Header("Connection", "keep-alive")
			c.Header("X-Accel-Buffering", "no")
		}
		c.SSEvent(event, data)
		c.Writer.Flush()
		return c.Request.Context().Err()
	}
	ans, err := h.pipeline.AskStream(c.Request.Context(), req.Question, req.History,
		func(citations []answerer.Citation) error {
			return send("sources", gin.H{"sources": citations})
		},
		func(text string) error {
			return send("token", gin.H{"text": text})
		})
	if err != nil {
		status, code := classify(err)
		logger.Warn("chat stream failed [%s]: %v", c.GetString("request_id"), err)
		if !started {
			fail(c, status, code, err.Error(), nil)
			return
		}
		body := gin.H{"code": code, "message": err.Error()}
		var upErr *answerer.UpstreamError
		if errors.As(err, &upErr) {
			body["sources"] = sources(upErr.Sources, true)
		}
		_ = send("error", body)
		return
	}
	_ = send("done", gin.H{
		"citations":          ans.Citations,
		"remaining_requests": c.GetInt("remaining"),
		"request_id":         c.GetString("request_id"),
	})
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	health := h.pipeline.Health()
	status := http.StatusOK
	if health.Status == "unavailable" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

// Papers handles GET /papers.
func (h *Handler) Papers(c *gin.Context) {
	docs := h.pipeline.Papers()
	papers := make([]Paper, len(docs))
	for i, d := range docs {
		papers[i] = Paper{
			ID:      d.ID,
			Title:   d.Title,
			Year:    d.Year,
			Species: d.Species,
			Topics:  d.Topics,
			URL:     catalog.CleanURL(d.URL),
			HasCode: d.HasCode,
		}
	}
	c.JSON(http.StatusOK, gin.H{"papers": papers, "total": len(papers)})
}
