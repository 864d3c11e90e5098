package visibility

import "pinboard/api/internal/store"

// CanView is the single read authorization check. Anonymous requesters pass
// an empty id. Orphaned boards are visible only while public.
func CanView(board store.Board, requesterID string) bool {
	if IsOwner(board, requesterID) {
		return true
	}
	return board.IsPublic
}

// CanEdit allows mutations by the owner only. Orphaned boards are read-only.
func CanEdit(board store.Board, requesterID string) bool {
	return IsOwner(board, requesterID)
}

func IsOwner(board store.Board, requesterID string) bool {
	return requesterID != "" && board.OwnerID != nil && *board.OwnerID == requesterID
}
