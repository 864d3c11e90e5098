package app

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *HTTPServer) handleListFolders(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	folders, err := s.service.ListFolders(r.Context(), requester)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"folders": presentFolders(folders)})
}

func (s *HTTPServer) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
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
	folder, err := s.service.CreateFolder(r.Context(), requester, body.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, presentFolder(folder))
}

func (s *HTTPServer) handleRenameFolder(w http.ResponseWriter, r *http.Request) {
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
	folder, err := s.service.RenameFolder(r.Context(), requester, mux.Vars(r)["fid"], body.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentFolder(folder))
}

func (s *HTTPServer) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteFolder(r.Context(), requester, mux.Vars(r)["fid"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteAccount(r.Context(), requester, mux.Vars(r)["uid"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleFollow(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	if err := s.service.Follow(r.Context(), requester, mux.Vars(r)["uid"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	if err := s.service.Unfollow(r.Context(), requester, mux.Vars(r)["uid"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleFollowList(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var (
		users []string
		err   error
	)
	if vars["side"] == "followers" {
		users, err = s.service.ListFollowers(r.Context(), vars["uid"])
	} else {
		users, err = s.service.ListFollowing(r.Context(), vars["uid"])
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if users == nil {
		users = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{vars["side"]: users})
}
