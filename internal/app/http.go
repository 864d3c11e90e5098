package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"pinboard/api/internal/auth"
)

type HTTPServer struct {
	service    *Service
	verifier   *auth.Verifier
	corsOrigin string
	logger     *log.Logger
	router     *mux.Router
}

func NewHTTPServer(service *Service, verifier *auth.Verifier, corsOrigin string, logger *log.Logger) *HTTPServer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &HTTPServer{service: service, verifier: verifier, corsOrigin: corsOrigin, logger: logger}
	s.router = s.routes()
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(s.router)
}

func (s *HTTPServer) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "Not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/public/{token}", s.handlePublicBoard).Methods(http.MethodGet)

	api.HandleFunc("/boards", s.handleListBoards).Methods(http.MethodGet)
	api.HandleFunc("/boards", s.handleCreateBoard).Methods(http.MethodPost)
	api.HandleFunc("/boards/code/{code}", s.handleBoardByCode).Methods(http.MethodGet)
	api.HandleFunc("/boards/{id}", s.handleViewBoard).Methods(http.MethodGet)
	api.HandleFunc("/boards/{id}", s.handleUpdateBoard).Methods(http.MethodPatch)
	api.HandleFunc("/boards/{id}", s.handlePurgeBoard).Methods(http.MethodDelete)
	api.HandleFunc("/boards/{id}/{action:pin|unpin|trash|restore|rebalance}", s.handleBoardAction).Methods(http.MethodPost)
	api.HandleFunc("/boards/{id}/folder", s.handleMoveBoardToFolder).Methods(http.MethodPut)
	api.HandleFunc("/boards/{id}/sections-mode", s.handleSectionsMode).Methods(http.MethodPut)
	api.HandleFunc("/boards/{id}/share", s.handleEnableSharing).Methods(http.MethodPost)
	api.HandleFunc("/boards/{id}/share", s.handleDisableSharing).Methods(http.MethodDelete)

	api.HandleFunc("/boards/{id}/sections", s.handleCreateSection).Methods(http.MethodPost)
	api.HandleFunc("/boards/{id}/sections/{sid}", s.handleRenameSection).Methods(http.MethodPatch)
	api.HandleFunc("/boards/{id}/sections/{sid}", s.handleDeleteSection).Methods(http.MethodDelete)
	api.HandleFunc("/boards/{id}/sections/{sid}/move", s.handleMoveSection).Methods(http.MethodPost)

	api.HandleFunc("/boards/{id}/cards", s.handleListCards).Methods(http.MethodGet)
	api.HandleFunc("/boards/{id}/cards", s.handleCreateCard).Methods(http.MethodPost)
	api.HandleFunc("/boards/{id}/trash", s.handleListTrash).Methods(http.MethodGet)
	api.HandleFunc("/boards/{id}/trash", s.handleEmptyTrash).Methods(http.MethodDelete)
	api.HandleFunc("/boards/{id}/cards/{cid}", s.handleUpdateCard).Methods(http.MethodPatch)
	api.HandleFunc("/boards/{id}/cards/{cid}", s.handlePurgeCard).Methods(http.MethodDelete)
	api.HandleFunc("/boards/{id}/cards/{cid}/move", s.handleMoveCard).Methods(http.MethodPost)
	api.HandleFunc("/boards/{id}/cards/{cid}/{action:trash|restore}", s.handleCardAction).Methods(http.MethodPost)

	api.HandleFunc("/folders", s.handleListFolders).Methods(http.MethodGet)
	api.HandleFunc("/folders", s.handleCreateFolder).Methods(http.MethodPost)
	api.HandleFunc("/folders/{fid}", s.handleRenameFolder).Methods(http.MethodPatch)
	api.HandleFunc("/folders/{fid}", s.handleDeleteFolder).Methods(http.MethodDelete)

	api.HandleFunc("/users/{uid}", s.handleDeleteAccount).Methods(http.MethodDelete)
	api.HandleFunc("/users/{uid}/follow", s.handleFollow).Methods(http.MethodPost)
	api.HandleFunc("/users/{uid}/follow", s.handleUnfollow).Methods(http.MethodDelete)
	api.HandleFunc("/users/{uid}/{side:followers|following}", s.handleFollowList).Methods(http.MethodGet)
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// identify resolves the requester. A request without a bearer token is
// anonymous; a request with a bad one is rejected.
func (s *HTTPServer) identify(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	token := bearerToken(r)
	if token == "" {
		return auth.Identity{}, true
	}
	if s.verifier == nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized", nil)
		return auth.Identity{}, false
	}
	identity, err := s.verifier.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized", nil)
		return auth.Identity{}, false
	}
	return identity, true
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithFields(log.Fields{
			"request_id": requestID(r.Context()),
			"path":       r.URL.Path,
			"error":      err.Error(),
		}).Error("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.logger.WithFields(log.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, codeUnauthorized, "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
