package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fabfab/ragsentry/internal/auth"
	"github.com/fabfab/ragsentry/internal/domain"
	"github.com/fabfab/ragsentry/internal/filestore"
	"github.com/fabfab/ragsentry/internal/indexing"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, ctx context.Context, err error) {
	status, body := statusAndBodyFor(err)
	writeJSON(w, status, body)
}

func errUnauthenticated(msg string) error {
	return domain.NewError(domain.KindUnauthenticated, msg, nil)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePgHealth(w http.ResponseWriter, r *http.Request) {
	configured := s.chatStore != nil
	connected := false
	if configured {
		connected = s.chatStore.Ping(r.Context()) == nil
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"configured":           configured,
		"connected":            connected,
		"vector_ext_installed": connected,
	})
}

func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeJSON(w, http.StatusOK, map[string]any{"calls": 0})
		return
	}
	summary := s.metrics.Summarize()
	writeJSON(w, http.StatusOK, map[string]any{
		"calls":           summary.Calls,
		"total_tokens":    summary.TotalTokens,
		"cached_calls":    summary.CachedCalls,
		"cache_hit_ratio": summary.CacheHitRatio,
	})
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r.Context(), domain.NewError(domain.KindValidation, "invalid request body", err))
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, r.Context(), domain.NewError(domain.KindValidation, "email and password are required", nil))
		return
	}

	hash, salt, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r.Context(), err)
		return
	}

	user, err := s.chatStore.CreateUser(r.Context(), domain.User{
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: hash,
		PasswordSalt: salt,
	})
	if err != nil {
		writeError(w, r.Context(), err)
		return
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		writeError(w, r.Context(), err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"user":         user,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r.Context(), domain.NewError(domain.KindValidation, "invalid request body", err))
		return
	}

	user, err := s.chatStore.GetUserByEmail(r.Context(), strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil {
		writeError(w, r.Context(), errUnauthenticated("invalid email or password"))
		return
	}

	ok, err := auth.VerifyPassword(req.Password, user.PasswordHash, user.PasswordSalt)
	if err != nil || !ok {
		writeError(w, r.Context(), errUnauthenticated("invalid email or password"))
		return
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		writeError(w, r.Context(), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"user":         user,
	})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Mode      string `json:"mode"`
	FileID    string `json:"file_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r.Context(), domain.NewError(domain.KindValidation, "invalid request body", err))
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeError(w, r.Context(), domain.NewError(domain.KindValidation, "message must not be empty", nil))
		return
	}
	if req.SessionID == "0" {
		req.SessionID = ""
	}

	owner := userIDFromContext(r.Context())
	result, err := s.chat.HandleMessage(r.Context(), req.SessionID, owner, req.Message, req.Mode, req.FileID)
	if err != nil {
		writeError(w, r.Context(), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reply":      result.Reply,
		"session_id": result.SessionID,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	deleted, err := s.chatStore.DeleteSession(r.Context(), sid)
	if err != nil {
		writeError(w, r.Context(), err)
		return
	}
	if !deleted {
		writeError(w, r.Context(), domain.NewError(domain.KindNotFound, "session not found", nil))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, r.Context(), domain.NewError(domain.KindValidation, "parse multipart form", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r.Context(), domain.NewError(domain.KindValidation, "missing file field", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r.Context(), err)
		return
	}

	storageKey := uuid.NewString()
	path, err := s.files.Save(storageKey, header.Filename, data)
	if err != nil {
		if err == filestore.ErrUnsupportedFileType {
			writeError(w, r.Context(), domain.NewError(domain.KindValidation, "unsupported file type", err))
			return
		}
		writeError(w, r.Context(), err)
		return
	}

	doc, err := s.chatStore.CreateFile(r.Context(), header.Filename, path)
	if err != nil {
		writeError(w, r.Context(), err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"file_id": doc.ID,
		"status":  string(domain.FileStatusPending),
	})
}

func (s *Server) handleIndexFile(w http.ResponseWriter, r *http.Request) {
	fid := chi.URLParam(r, "fid")
	if _, err := s.chatStore.GetFile(r.Context(), fid); err != nil {
		writeError(w, r.Context(), err)
		return
	}

	if err := s.queue.Enqueue(r.Context(), indexing.Job{FileID: fid}); err != nil {
		writeError(w, r.Context(), err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	fid := r.URL.Query().Get("file_id")
	topK := 10
	if v := r.URL.Query().Get("top_k"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			topK = n
		}
	}
	if q == "" {
		writeError(w, r.Context(), domain.NewError(domain.KindValidation, "q is required", nil))
		return
	}

	qvec, err := s.chat.EmbedQuery(r.Context(), q)
	if err != nil {
		writeError(w, r.Context(), err)
		return
	}

	hits, err := s.vectors.Search(r.Context(), fid, qvec, topK)
	if err != nil {
		writeError(w, r.Context(), err)
		return
	}

	results := make([]map[string]any, len(hits))
	for i, h := range hits {
		results[i] = map[string]any{
			"chunk_index": h.Chunk.ChunkIndex,
			"distance":    h.Distance,
			"text":        h.Chunk.Text,
			"page_number": h.Chunk.PageNumber,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
