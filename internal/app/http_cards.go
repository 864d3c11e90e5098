package app

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"pinboard/api/internal/store"
)

func (s *HTTPServer) handleListCards(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	cards, err := s.service.ListCards(r.Context(), requester, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": presentCards(cards)})
}

func (s *HTTPServer) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	var body CreateCardInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	card, err := s.service.CreateCard(r.Context(), requester, mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, presentCard(card))
}

func (s *HTTPServer) handleUpdateCard(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	var body struct {
		Content json.RawMessage `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	vars := mux.Vars(r)
	card, err := s.service.UpdateCardContent(r.Context(), requester, vars["id"], vars["cid"], body.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentCard(card))
}

func (s *HTTPServer) handlePurgeCard(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	if err := s.service.PurgeCard(r.Context(), requester, vars["id"], vars["cid"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleMoveCard(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	var body MoveCardInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	vars := mux.Vars(r)
	card, err := s.service.MoveCard(r.Context(), requester, vars["id"], vars["cid"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentCard(card))
}

func (s *HTTPServer) handleCardAction(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	var (
		card store.Card
		err  error
	)
	if vars["action"] == "trash" {
		card, err = s.service.TrashCard(r.Context(), requester, vars["id"], vars["cid"])
	} else {
		card, err = s.service.RestoreCard(r.Context(), requester, vars["id"], vars["cid"])
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentCard(card))
}

func (s *HTTPServer) handleListTrash(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	cards, err := s.service.ListTrash(r.Context(), requester, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": presentCards(cards)})
}

func (s *HTTPServer) handleEmptyTrash(w http.ResponseWriter, r *http.Request) {
	requester, ok := s.identify(w, r)
	if !ok {
		return
	}
	purged, err := s.service.EmptyTrash(r.Context(), requester, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "purged": purged})
}
