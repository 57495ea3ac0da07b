package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"followup/internal/model"
	"followup/internal/store"

	"github.com/go-chi/chi"
	"github.com/samber/lo"
)

// ErrValidation marks a request that lacks required parameters.
var ErrValidation = errors.New("invalid request")

const missingParams = "Missing required parameters: conversationId, latestMessageId, and userEmail are required"

// keyRequest accepts both camelCase and snake_case parameter names.
type keyRequest struct {
	ConversationID       string `json:"conversationId"`
	ConversationIDSnake  string `json:"conversation_id"`
	LatestMessageID      string `json:"latestMessageId"`
	LatestMessageIDSnake string `json:"latest_message_id"`
	UserEmail            string `json:"userEmail"`
	UserEmailSnake       string `json:"user_email"`
	Subject              string `json:"subject"`
	Reason               string `json:"reason"`
}

func (k keyRequest) suppression() (model.Suppression, error) {
	sup := model.Suppression{
		ConversationID:  strings.TrimSpace(lo.CoalesceOrEmpty(k.ConversationID, k.ConversationIDSnake)),
		LatestMessageID: strings.TrimSpace(lo.CoalesceOrEmpty(k.LatestMessageID, k.LatestMessageIDSnake)),
		Owner:           strings.TrimSpace(lo.CoalesceOrEmpty(k.UserEmail, k.UserEmailSnake)),
		Subject:         k.Subject,
		Reason:          k.Reason,
	}
	if sup.ConversationID == "" || sup.LatestMessageID == "" || sup.Owner == "" {
		return model.Suppression{}, fmt.Errorf("%w: %s", ErrValidation, missingParams)
	}
	return sup, nil
}

// readKey pulls the suppression key from the JSON body when one is sent,
// otherwise from the query string.
func readKey(r *http.Request) (model.Suppression, error) {
	var k keyRequest
	if r.Method != http.MethodGet && r.Body != nil {
		err := json.NewDecoder(r.Body).Decode(&k)
		switch {
		case errors.Is(err, io.EOF):
		case err != nil:
			return model.Suppression{}, fmt.Errorf("%w: malformed JSON body: %v", ErrValidation, err)
		default:
			return k.suppression()
		}
	}
	q := r.URL.Query()
	k = keyRequest{
		ConversationID:       q.Get("conversationId"),
		ConversationIDSnake:  q.Get("conversation_id"),
		LatestMessageID:      q.Get("latestMessageId"),
		LatestMessageIDSnake: q.Get("latest_message_id"),
		UserEmail:            q.Get("userEmail"),
		UserEmailSnake:       q.Get("user_email"),
		Subject:              q.Get("subject"),
		Reason:               q.Get("reason"),
	}
	return k.suppression()
}

// wantsHTML is true for link clicks from a mail client or browser.
func wantsHTML(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		return true
	}
	return r.Method == http.MethodGet && r.Header.Get("X-Requested-With") == ""
}

func (s *Server) markDealtWith(w http.ResponseWriter, r *http.Request) {
	html := wantsHTML(r)
	sup, err := readKey(r)
	if err != nil {
		s.fail(w, html, http.StatusBadRequest, err)
		return
	}
	sup.SuppressedAt = s.now()

	if err := s.store.Suppress(r.Context(), sup); err != nil {
		s.logger.Error("mark dealt with failed", "conversation", sup.ConversationID, "owner", sup.Owner, "err", err)
		s.fail(w, html, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("marked dealt with", "conversation", sup.ConversationID, "latest", sup.LatestMessageID, "owner", sup.Owner)

	if html {
		writeHTML(w, http.StatusOK, successPage(sup.Owner, sup.Subject))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"message":         "Email instance marked as dealt with",
		"conversationId":  sup.ConversationID,
		"latestMessageId": sup.LatestMessageID,
		"userEmail":       sup.Owner,
	})
}

func (s *Server) checkExcluded(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "conversationId")
	latestID := chi.URLParam(r, "latestMessageId")
	owner := chi.URLParam(r, "userEmail")

	excluded, err := s.store.IsSuppressed(r.Context(), convID, latestID, owner)
	if err != nil {
		s.logger.Error("check excluded failed", "conversation", convID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"excluded":        excluded,
		"conversationId":  convID,
		"latestMessageId": latestID,
		"userEmail":       owner,
	})
}

func (s *Server) listExclusions(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "userEmail")
	sups, err := s.store.List(r.Context(), owner)
	if err != nil {
		s.logger.Error("list exclusions failed", "owner", owner, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if sups == nil {
		sups = []model.Suppression{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userEmail":  owner,
		"count":      len(sups),
		"exclusions": sups,
	})
}

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	mailbox := chi.URLParam(r, "userEmail")
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunLimit)
	}
	runs, err := s.store.RecentRuns(r.Context(), mailbox, limit)
	if err != nil {
		s.logger.Error("list runs failed", "mailbox", mailbox, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userEmail": mailbox,
		"count":     len(runs),
		"runs":      runs,
	})
}

func (s *Server) undoExclusion(w http.ResponseWriter, r *http.Request) {
	sup, err := readKey(r)
	if err != nil {
		s.fail(w, false, http.StatusBadRequest, err)
		return
	}
	removed, err := s.store.Unsuppress(r.Context(), sup.ConversationID, sup.LatestMessageID, sup.Owner)
	if err != nil {
		s.logger.Error("undo exclusion failed", "conversation", sup.ConversationID, "err", err)
		s.fail(w, false, http.StatusInternalServerError, err)
		return
	}
	if !removed {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "Exclusion not found"})
		return
	}
	s.logger.Info("exclusion removed", "conversation", sup.ConversationID, "latest", sup.LatestMessageID, "owner", sup.Owner)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Exclusion removed"})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status, code, reachable := "healthy", http.StatusOK, true
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("health check: database unreachable", "err", err)
		status, code, reachable = "unhealthy", http.StatusServiceUnavailable, false
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"database":  reachable,
	})
}

func (s *Server) fail(w http.ResponseWriter, html bool, code int, err error) {
	msg := err.Error()
	if errors.Is(err, ErrValidation) {
		msg = strings.TrimPrefix(msg, ErrValidation.Error()+": ")
	} else {
		msg = "Database error: " + msg
	}
	if html {
		writeHTML(w, code, errorPage(msg))
		return
	}
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeHTML(w http.ResponseWriter, code int, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, page)
}
