package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"pinboard/api/internal/follow"
	"pinboard/api/internal/ordering"
)

// MemoryStore keeps everything in process. Each board has its own mutex so
// commands on different boards never wait on each other; transactions work on
// a copy of the board that replaces the original only on success.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]User
	folders map[string]Folder
	boards  map[string]*boardState
	follows map[follow.Edge]time.Time
	locks   map[string]*sync.Mutex
	seq     int64
	now     func() time.Time
}

type boardState struct {
	board    Board
	sections map[string]Section
	cards    map[string]Card
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]User),
		folders: make(map[string]Folder),
		boards:  make(map[string]*boardState),
		follows: make(map[follow.Edge]time.Time),
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) nextSeq() int64 {
	s.seq++
	return s.seq
}

func (s *MemoryStore) EnsureUser(_ context.Context, userID, displayName string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[userID]; ok {
		return user, nil
	}
	user := User{ID: userID, DisplayName: displayName, CreatedAt: s.now()}
	s.users[userID] = user
	return user, nil
}

func (s *MemoryStore) GetUser(_ context.Context, userID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return User{}, fmt.Errorf("get user: %w", ErrNotFound)
	}
	return user, nil
}

// DeleteUser orphans the user's boards and drops their folders and follows.
func (s *MemoryStore) DeleteUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	if _, ok := s.users[userID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("delete user: %w", ErrNotFound)
	}
	delete(s.users, userID)
	removed := make(map[string]bool)
	for id, folder := range s.folders {
		if folder.OwnerID == userID {
			delete(s.folders, id)
			removed[id] = true
		}
	}
	for edge := range s.follows {
		if edge.Follower == userID || edge.Followee == userID {
			delete(s.follows, edge)
		}
	}
	s.mu.Unlock()

	return s.rewriteBoards(func(b *Board) bool {
		changed := false
		if b.OwnerID != nil && *b.OwnerID == userID {
			b.OwnerID = nil
			changed = true
		}
		if b.FolderID != nil && removed[*b.FolderID] {
			b.FolderID = nil
			changed = true
		}
		return changed
	})
}

func (s *MemoryStore) InsertBoard(_ context.Context, board Board, sections []Section) ([]Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boards[board.ID]; ok {
		return nil, fmt.Errorf("insert board: %w", ErrConflict)
	}
	for _, state := range s.boards {
		if state.board.Code == board.Code {
			return nil, fmt.Errorf("insert board code: %w", ErrConflict)
		}
	}
	state := &boardState{board: board, sections: map[string]Section{}, cards: map[string]Card{}}
	out := make([]Section, 0, len(sections))
	for _, section := range sections {
		section.BoardID = board.ID
		section.Seq = s.nextSeq()
		state.sections[section.ID] = section
		out = append(out, section)
	}
	s.boards[board.ID] = state
	s.locks[board.ID] = &sync.Mutex{}
	return out, nil
}

func (s *MemoryStore) GetBoard(_ context.Context, boardID string) (Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.boards[boardID]
	if !ok {
		return Board{}, fmt.Errorf("get board: %w", ErrNotFound)
	}
	return state.board, nil
}

func (s *MemoryStore) GetBoardByCode(_ context.Context, code string) (Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, state := range s.boards {
		if state.board.Code == code {
			return state.board, nil
		}
	}
	return Board{}, fmt.Errorf("get board by code: %w", ErrNotFound)
}

func (s *MemoryStore) GetBoardByShareToken(_ context.Context, token string) (Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, state := range s.boards {
		if state.board.ShareToken != nil && *state.board.ShareToken == token {
			return state.board, nil
		}
	}
	return Board{}, fmt.Errorf("get board by token: %w", ErrNotFound)
}

func (s *MemoryStore) ShareTokenExists(ctx context.Context, token string) (bool, error) {
	_, err := s.GetBoardByShareToken(ctx, token)
	return err == nil, nil
}

func (s *MemoryStore) BoardCodeExists(ctx context.Context, code string) (bool, error) {
	_, err := s.GetBoardByCode(ctx, code)
	return err == nil, nil
}

func (s *MemoryStore) ListBoards(_ context.Context, filter BoardFilter) ([]Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	boards := make([]Board, 0)
	for _, state := range s.boards {
		if filter.matches(state.board) {
			boards = append(boards, state.board)
		}
	}
	sort.Slice(boards, func(i, j int) bool {
		if boards[i].IsPinned != boards[j].IsPinned {
			return boards[i].IsPinned
		}
		if !boards[i].UpdatedAt.Equal(boards[j].UpdatedAt) {
			return boards[i].UpdatedAt.After(boards[j].UpdatedAt)
		}
		return boards[i].ID < boards[j].ID
	})
	return boards, nil
}

func (s *MemoryStore) ListSections(_ context.Context, boardID string) ([]Section, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.boards[boardID]
	if !ok {
		return nil, fmt.Errorf("list sections: %w", ErrNotFound)
	}
	return state.listSections(), nil
}

func (s *MemoryStore) ListCards(_ context.Context, boardID string, filter CardFilter) ([]Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.boards[boardID]
	if !ok {
		return nil, fmt.Errorf("list cards: %w", ErrNotFound)
	}
	return state.listCards(filter), nil
}

func (s *MemoryStore) ListTrashedCardsBefore(_ context.Context, cutoff time.Time) ([]Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cards := make([]Card, 0)
	for _, state := range s.boards {
		for _, card := range state.cards {
			if card.Trashed && card.TrashedAt != nil && card.TrashedAt.Before(cutoff) {
				cards = append(cards, card)
			}
		}
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].TrashedAt.Before(*cards[j].TrashedAt) })
	return cards, nil
}

func (s *MemoryStore) InBoardTx(ctx context.Context, boardID string, fn func(BoardTx) error) error {
	s.mu.RLock()
	lock, ok := s.locks[boardID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("lock board: %w", ErrNotFound)
	}
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	state, ok := s.boards[boardID]
	var working *boardState
	if ok {
		working = state.clone()
	}
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("lock board: %w", ErrNotFound)
	}

	tx := &memoryTx{store: s, state: working}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.deleted {
		delete(s.boards, boardID)
		delete(s.locks, boardID)
		return nil
	}
	s.boards[boardID] = working
	return nil
}

// rewriteBoards applies fn to every board under that board's lock.
func (s *MemoryStore) rewriteBoards(fn func(*Board) bool) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.boards))
	for id := range s.boards {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		s.mu.RLock()
		lock, ok := s.locks[id]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		lock.Lock()
		s.mu.Lock()
		if state, ok := s.boards[id]; ok {
			board := state.board
			if fn(&board) {
				state.board = board
			}
		}
		s.mu.Unlock()
		lock.Unlock()
	}
	return nil
}

func (s *MemoryStore) InsertFolder(_ context.Context, folder Folder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.folders[folder.ID]; ok {
		return fmt.Errorf("insert folder: %w", ErrConflict)
	}
	s.folders[folder.ID] = folder
	return nil
}

func (s *MemoryStore) GetFolder(_ context.Context, folderID string) (Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	folder, ok := s.folders[folderID]
	if !ok {
		return Folder{}, fmt.Errorf("get folder: %w", ErrNotFound)
	}
	return folder, nil
}

func (s *MemoryStore) ListFolders(_ context.Context, ownerID string) ([]Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	folders := make([]Folder, 0)
	for _, folder := range s.folders {
		if folder.OwnerID == ownerID {
			folders = append(folders, folder)
		}
	}
	sort.Slice(folders, func(i, j int) bool {
		if folders[i].Name != folders[j].Name {
			return folders[i].Name < folders[j].Name
		}
		return folders[i].ID < folders[j].ID
	})
	return folders, nil
}

func (s *MemoryStore) RenameFolder(_ context.Context, folderID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	folder, ok := s.folders[folderID]
	if !ok {
		return fmt.Errorf("rename folder: %w", ErrNotFound)
	}
	folder.Name = name
	folder.UpdatedAt = s.now()
	s.folders[folderID] = folder
	return nil
}

// DeleteFolder detaches the folder's boards instead of deleting them.
func (s *MemoryStore) DeleteFolder(_ context.Context, folderID string) error {
	s.mu.Lock()
	if _, ok := s.folders[folderID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("delete folder: %w", ErrNotFound)
	}
	delete(s.folders, folderID)
	s.mu.Unlock()

	return s.rewriteBoards(func(b *Board) bool {
		if b.FolderID != nil && *b.FolderID == folderID {
			b.FolderID = nil
			return true
		}
		return false
	})
}

func (s *MemoryStore) InsertFollow(_ context.Context, edge follow.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range []string{edge.Follower, edge.Followee} {
		if _, ok := s.users[id]; !ok {
			return fmt.Errorf("insert follow: %w", ErrNotFound)
		}
	}
	if _, ok := s.follows[edge]; !ok {
		s.follows[edge] = s.now()
	}
	return nil
}

func (s *MemoryStore) DeleteFollow(_ context.Context, edge follow.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.follows, edge)
	return nil
}

func (s *MemoryStore) ListFollowEdges(context.Context) ([]follow.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	edges := make([]follow.Edge, 0, len(s.follows))
	for edge := range s.follows {
		edges = append(edges, edge)
	}
	return edges, nil
}

func (b *boardState) clone() *boardState {
	out := &boardState{
		board:    b.board,
		sections: make(map[string]Section, len(b.sections)),
		cards:    make(map[string]Card, len(b.cards)),
	}
	for id, section := range b.sections {
		out.sections[id] = section
	}
	for id, card := range b.cards {
		out.cards[id] = cloneCard(card)
	}
	return out
}

func cloneCard(card Card) Card {
	if card.Content != nil {
		card.Content = append(json.RawMessage(nil), card.Content...)
	}
	return card
}

func (b *boardState) listSections() []Section {
	sections := make([]Section, 0, len(b.sections))
	for _, section := range b.sections {
		sections = append(sections, section)
	}
	sortSections(sections)
	return sections
}

func (b *boardState) listCards(filter CardFilter) []Card {
	cards := make([]Card, 0)
	for _, card := range b.cards {
		if filter.matches(card) {
			cards = append(cards, cloneCard(card))
		}
	}
	if filter.Trashed {
		sort.Slice(cards, func(i, j int) bool {
			ti, tj := cards[i].TrashedAt, cards[j].TrashedAt
			if ti != nil && tj != nil && !ti.Equal(*tj) {
				return ti.After(*tj)
			}
			return cards[i].Seq > cards[j].Seq
		})
		return cards
	}
	sortCards(cards)
	return cards
}

type memoryTx struct {
	store   *MemoryStore
	state   *boardState
	deleted bool
}

func (t *memoryTx) Board() Board { return t.state.board }

func (t *memoryTx) SaveBoard(_ context.Context, board Board) error {
	if board.ID != t.state.board.ID {
		return fmt.Errorf("save board: id mismatch %s != %s", board.ID, t.state.board.ID)
	}
	if board.ShareToken != nil {
		t.store.mu.RLock()
		defer t.store.mu.RUnlock()
		for id, other := range t.store.boards {
			if id != board.ID && other.board.ShareToken != nil && *other.board.ShareToken == *board.ShareToken {
				return fmt.Errorf("save board share token: %w", ErrConflict)
			}
		}
	}
	t.state.board = board
	return nil
}

func (t *memoryTx) DeleteBoard(context.Context) error {
	t.deleted = true
	return nil
}

func (t *memoryTx) Sections(context.Context) ([]Section, error) {
	return t.state.listSections(), nil
}

func (t *memoryTx) InsertSection(_ context.Context, section Section) (Section, error) {
	if _, ok := t.state.sections[section.ID]; ok {
		return Section{}, fmt.Errorf("insert section: %w", ErrConflict)
	}
	section.BoardID = t.state.board.ID
	t.store.mu.Lock()
	section.Seq = t.store.nextSeq()
	t.store.mu.Unlock()
	t.state.sections[section.ID] = section
	return section, nil
}

func (t *memoryTx) SaveSection(_ context.Context, section Section) error {
	if _, ok := t.state.sections[section.ID]; !ok {
		return fmt.Errorf("save section: %w", ErrNotFound)
	}
	t.state.sections[section.ID] = section
	return nil
}

func (t *memoryTx) DeleteSection(_ context.Context, sectionID string) error {
	if _, ok := t.state.sections[sectionID]; !ok {
		return fmt.Errorf("delete section: %w", ErrNotFound)
	}
	for id, card := range t.state.cards {
		if card.SectionID == nil || *card.SectionID != sectionID {
			continue
		}
		if card.Trashed {
			card.SectionID = nil
			t.state.cards[id] = card
			continue
		}
		delete(t.state.cards, id)
	}
	delete(t.state.sections, sectionID)
	return nil
}

func (t *memoryTx) SetSectionKeys(_ context.Context, keys map[string]ordering.Key) error {
	for id, key := range keys {
		section, ok := t.state.sections[id]
		if !ok {
			return fmt.Errorf("set section key: %w", ErrNotFound)
		}
		section.OrderKey = key
		t.state.sections[id] = section
	}
	return nil
}

func (t *memoryTx) Cards(_ context.Context, filter CardFilter) ([]Card, error) {
	return t.state.listCards(filter), nil
}

func (t *memoryTx) Card(_ context.Context, cardID string) (Card, error) {
	card, ok := t.state.cards[cardID]
	if !ok {
		return Card{}, fmt.Errorf("get card: %w", ErrNotFound)
	}
	return cloneCard(card), nil
}

func (t *memoryTx) InsertCard(_ context.Context, card Card) (Card, error) {
	if _, ok := t.state.cards[card.ID]; ok {
		return Card{}, fmt.Errorf("insert card: %w", ErrConflict)
	}
	if err := t.checkSection(card); err != nil {
		return Card{}, err
	}
	card.BoardID = t.state.board.ID
	t.store.mu.Lock()
	card.Seq = t.store.nextSeq()
	t.store.mu.Unlock()
	t.state.cards[card.ID] = cloneCard(card)
	return card, nil
}

func (t *memoryTx) SaveCard(_ context.Context, card Card) error {
	if _, ok := t.state.cards[card.ID]; !ok {
		return fmt.Errorf("save card: %w", ErrNotFound)
	}
	if err := t.checkSection(card); err != nil {
		return err
	}
	t.state.cards[card.ID] = cloneCard(card)
	return nil
}

func (t *memoryTx) checkSection(card Card) error {
	if card.SectionID == nil {
		return nil
	}
	if _, ok := t.state.sections[*card.SectionID]; !ok {
		return fmt.Errorf("card section %s: %w", *card.SectionID, ErrNotFound)
	}
	return nil
}

func (t *memoryTx) DeleteCard(_ context.Context, cardID string) error {
	if _, ok := t.state.cards[cardID]; !ok {
		return fmt.Errorf("delete card: %w", ErrNotFound)
	}
	delete(t.state.cards, cardID)
	return nil
}

func (t *memoryTx) SetCardKeys(_ context.Context, keys map[string]ordering.Key) error {
	for id, key := range keys {
		card, ok := t.state.cards[id]
		if !ok {
			return fmt.Errorf("set card key: %w", ErrNotFound)
		}
		card.OrderKey = key
		t.state.cards[id] = card
	}
	return nil
}
