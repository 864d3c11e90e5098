package app

import (
	"encoding/json"
	"time"

	"pinboard/api/internal/auth"
	"pinboard/api/internal/store"
	"pinboard/api/internal/visibility"
)

type boardPayload struct {
	ID              string     `json:"id"`
	Code            string     `json:"code"`
	OwnerID         *string    `json:"ownerId"`
	Title           string     `json:"title"`
	Background      string     `json:"background"`
	DominantColor   string     `json:"dominantColor"`
	Format          string     `json:"format"`
	IsPinned        bool       `json:"isPinned"`
	Trashed         bool       `json:"trashed"`
	TrashedAt       *time.Time `json:"trashedAt,omitempty"`
	LastViewedAt    *time.Time `json:"lastViewedAt,omitempty"`
	FolderID        *string    `json:"folderId"`
	SectionsEnabled bool       `json:"sectionsEnabled"`
	IsPublic        bool       `json:"isPublic"`
	ShareToken      *string    `json:"shareToken,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type sectionPayload struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type cardPayload struct {
	ID                string          `json:"id"`
	SectionID         *string         `json:"sectionId"`
	Content           json.RawMessage `json:"content"`
	Trashed           bool            `json:"trashed"`
	TrashedAt         *time.Time      `json:"trashedAt,omitempty"`
	OriginalSectionID *string         `json:"originalSectionId,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

type boardViewPayload struct {
	Board    boardPayload     `json:"board"`
	Sections []sectionPayload `json:"sections"`
	Cards    []cardPayload    `json:"cards"`
}

type folderPayload struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// presentBoard hides owner-only fields from everybody else. The share token
// and the folder are the owner's business.
func presentBoard(board store.Board, requester auth.Identity) boardPayload {
	payload := boardPayload{
		ID:              board.ID,
		Code:            board.Code,
		OwnerID:         board.OwnerID,
		Title:           board.Title,
		Background:      board.Background,
		DominantColor:   board.DominantColor,
		Format:          board.Format,
		IsPinned:        board.IsPinned,
		Trashed:         board.Trashed,
		TrashedAt:       board.TrashedAt,
		SectionsEnabled: board.SectionsEnabled,
		IsPublic:        board.IsPublic,
		CreatedAt:       board.CreatedAt,
		UpdatedAt:       board.UpdatedAt,
	}
	if visibility.IsOwner(board, requester.UserID) {
		payload.LastViewedAt = board.LastViewedAt
		payload.FolderID = board.FolderID
		payload.ShareToken = board.ShareToken
	}
	return payload
}

func presentBoards(boards []store.Board, requester auth.Identity) []boardPayload {
	out := make([]boardPayload, 0, len(boards))
	for _, board := range boards {
		out = append(out, presentBoard(board, requester))
	}
	return out
}

func presentSection(section store.Section) sectionPayload {
	return sectionPayload{
		ID:        section.ID,
		Name:      section.Name,
		CreatedAt: section.CreatedAt,
		UpdatedAt: section.UpdatedAt,
	}
}

func presentCard(card store.Card) cardPayload {
	payload := cardPayload{
		ID:        card.ID,
		SectionID: card.SectionID,
		Content:   card.Content,
		Trashed:   card.Trashed,
		TrashedAt: card.TrashedAt,
		CreatedAt: card.CreatedAt,
		UpdatedAt: card.UpdatedAt,
	}
	if card.Trashed {
		payload.OriginalSectionID = card.OriginalSectionID
	}
	if len(payload.Content) == 0 {
		payload.Content = json.RawMessage(`{}`)
	}
	return payload
}

func presentCards(cards []store.Card) []cardPayload {
	out := make([]cardPayload, 0, len(cards))
	for _, card := range cards {
		out = append(out, presentCard(card))
	}
	return out
}

func presentView(view BoardView, requester auth.Identity) boardViewPayload {
	sections := make([]sectionPayload, 0, len(view.Sections))
	for _, section := range view.Sections {
		sections = append(sections, presentSection(section))
	}
	return boardViewPayload{
		Board:    presentBoard(view.Board, requester),
		Sections: sections,
		Cards:    presentCards(view.Cards),
	}
}

func presentFolders(folders []store.Folder) []folderPayload {
	out := make([]folderPayload, 0, len(folders))
	for _, folder := range folders {
		out = append(out, presentFolder(folder))
	}
	return out
}

func presentFolder(folder store.Folder) folderPayload {
	return folderPayload{ID: folder.ID, Name: folder.Name, CreatedAt: folder.CreatedAt, UpdatedAt: folder.UpdatedAt}
}
