package store

import (
	"encoding/json"
	"time"

	"pinboard/api/internal/ordering"
)

type User struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}

type Folder struct {
	ID        string
	OwnerID   string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Board is the aggregate root. OwnerID is nil for orphaned boards.
type Board struct {
	ID              string
	Code            string
	OwnerID         *string
	Title           string
	Background      string
	DominantColor   string
	Format          string
	IsPinned        bool
	Trashed         bool
	TrashedAt       *time.Time
	LastViewedAt    *time.Time
	FolderID        *string
	SectionsEnabled bool
	IsPublic        bool
	ShareToken      *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Section struct {
	ID        string
	BoardID   string
	Name      string
	OrderKey  ordering.Key
	Seq       int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s Section) Item() ordering.Item {
	return ordering.Item{ID: s.ID, Key: s.OrderKey, Seq: s.Seq}
}

// Card is positioned within (BoardID, SectionID). SectionID is nil when the
// board runs without sections.
type Card struct {
	ID                string
	BoardID           string
	SectionID         *string
	Content           json.RawMessage
	OrderKey          ordering.Key
	Seq               int64
	Trashed           bool
	TrashedAt         *time.Time
	OriginalPosition  *ordering.Key
	OriginalSectionID *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (c Card) Item() ordering.Item {
	return ordering.Item{ID: c.ID, Key: c.OrderKey, Seq: c.Seq}
}

// InScope reports whether the card sits in the given section scope.
func (c Card) InScope(sectionID *string) bool {
	return sameSection(c.SectionID, sectionID)
}

// RemembersScope reports whether a trashed card was taken out of the given
// section scope.
func (c Card) RemembersScope(sectionID *string) bool {
	return c.Trashed && sameSection(c.OriginalSectionID, sectionID)
}

func sameSection(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type BoardView string

const (
	ViewActive  BoardView = "active"
	ViewPinned  BoardView = "pinned"
	ViewTrashed BoardView = "trashed"
)

type BoardFilter struct {
	OwnerID  string
	View     BoardView
	FolderID *string
}

// CardFilter selects cards of one board. When Scoped is set only cards whose
// section equals SectionID are returned (nil meaning the implicit section).
type CardFilter struct {
	Trashed   bool
	Scoped    bool
	SectionID *string
}

func (f CardFilter) matches(card Card) bool {
	if card.Trashed != f.Trashed {
		return false
	}
	return !f.Scoped || card.InScope(f.SectionID)
}

func (f BoardFilter) matches(board Board) bool {
	if board.OwnerID == nil || *board.OwnerID != f.OwnerID {
		return false
	}
	if f.FolderID != nil && (board.FolderID == nil || *board.FolderID != *f.FolderID) {
		return false
	}
	switch f.View {
	case ViewTrashed:
		return board.Trashed
	case ViewPinned:
		return board.IsPinned && !board.Trashed
	default:
		return !board.Trashed
	}
}
