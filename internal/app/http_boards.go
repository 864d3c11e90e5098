package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"pinboard/api/internal/auth"
	"pinboard/api/internal/store"
)

func (s *HTTPServer) handlePublicBoard(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.ResolvePublicBoard(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentView(view, auth.Identity{}))
}

func (s *HTTPServer) handleListBoards(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	var folderID *string
	if value := query.Get("folderId"); value != "" {
		folderID = &value
	}
	boards, err := s.service.ListBoards(r.Context(), requester, store.BoardView(query.Get("view")), folderID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"boards": presentBoards(boards, requester)})
}

func (s *HTTPServer) handleCreateBoard(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	var body CreateBoardInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	view, err := s.service.CreateBoard(r.Context(), requester, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, presentView(view, requester))
}

func (s *HTTPServer) handleViewBoard(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	view, err := s.service.ViewBoard(r.Context(), requester, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentView(view, requester))
}

func (s *HTTPServer) handleBoardByCode(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	view, err := s.service.GetBoardByCode(r.Context(), requester, mux.Vars(r)["code"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentView(view, requester))
}

func (s *HTTPServer) handleUpdateBoard(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	var body UpdateBoardInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	board, err := s.service.UpdateBoard(r.Context(), requester, mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentBoard(board, requester))
}

func (s *HTTPServer) handlePurgeBoard(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	if err := s.service.PurgeBoard(r.Context(), requester, mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleBoardAction(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	boardID := vars["id"]

	var (
		board store.Board
		err   error
	)
	switch vars["action"] {
	case "pin":
		board, err = s.service.PinBoard(r.Context(), requester, boardID, true)
	case "unpin":
		board, err = s.service.PinBoard(r.Context(), requester, boardID, false)
	case "trash":
		board, err = s.service.TrashBoard(r.Context(), requester, boardID)
	case "restore":
		board, err = s.service.RestoreBoard(r.Context(), requester, boardID)
	case "rebalance":
		if err := s.service.RebalanceBoard(r.Context(), requester, boardID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentBoard(board, requester))
}

func (s *HTTPServer) handleMoveBoardToFolder(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	var body struct {
		FolderID *string `json:"folderId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	board, err := s.service.MoveBoardToFolder(r.Context(), requester, mux.Vars(r)["id"], body.FolderID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentBoard(board, requester))
}

func (s *HTTPServer) handleSectionsMode(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.Enabled == nil {
		writeError(w, http.StatusUnprocessableEntity, codeValidation, "enabled is required", nil)
		return
	}
	view, err := s.service.SetSectionsEnabled(r.Context(), requester, mux.Vars(r)["id"], *body.Enabled)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentView(view, requester))
}

func (s *HTTPServer) handleEnableSharing(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	board, err := s.service.EnableSharing(r.Context(), requester, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentBoard(board, requester))
}

func (s *HTTPServer) handleDisableSharing(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	board, err := s.service.DisableSharing(r.Context(), requester, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentBoard(board, requester))
}

func (s *HTTPServer) handleCreateSection(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	var body CreateSectionInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	section, err := s.service.CreateSection(r.Context(), requester, mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, presentSection(section))
}

func (s *HTTPServer) handleRenameSection(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	vars := mux.Vars(r)
	section, err := s.service.RenameSection(r.Context(), requester, vars["id"], vars["sid"], body.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentSection(section))
}

func (s *HTTPServer) handleDeleteSection(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	if err := s.service.DeleteSection(r.Context(), requester, vars["id"], vars["sid"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleMoveSection(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	var body struct {
		Index *int `json:"index"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	vars := mux.Vars(r)
	section, err := s.service.MoveSection(r.Context(), requester, vars["id"], vars["sid"], body.Index)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentSection(section))
}
