package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pinboard/api/internal/auth"
	"pinboard/api/internal/config"
	"pinboard/api/internal/follow"
	"pinboard/api/internal/ordering"
	"pinboard/api/internal/store"
	"pinboard/api/internal/visibility"
)

const tracerName = "pinboard/api/internal/app"

type CreateBoardInput struct {
	Title           string  `json:"title"`
	Background      string  `json:"background"`
	DominantColor   string  `json:"dominantColor"`
	Format          string  `json:"format"`
	FolderID        *string `json:"folderId"`
	SectionsEnabled bool    `json:"sectionsEnabled"`
}

type UpdateBoardInput struct {
	Title         *string `json:"title"`
	Background    *string `json:"background"`
	DominantColor *string `json:"dominantColor"`
	Format        *string `json:"format"`
}

type CreateSectionInput struct {
	Name  string `json:"name"`
	Index *int   `json:"index"`
}

type CreateCardInput struct {
	SectionID *string         `json:"sectionId"`
	Content   json.RawMessage `json:"content"`
	Index     *int            `json:"index"`
}

// MoveCardInput places a card at Index among the destination's cards, not
// counting the card itself. A nil index appends; a nil section keeps the
// card's current section.
type MoveCardInput struct {
	SectionID *string `json:"sectionId"`
	Index     *int    `json:"index"`
}

// BoardView is a board with its active content in display order.
type BoardView struct {
	Board    store.Board
	Sections []store.Section
	Cards    []store.Card
}

type dataStore interface {
	visibility.Directory
	EnsureUser(context.Context, string, string) (store.User, error)
	GetUser(context.Context, string) (store.User, error)
	DeleteUser(context.Context, string) error
	InsertBoard(context.Context, store.Board, []store.Section) ([]store.Section, error)
	GetBoardByCode(context.Context, string) (store.Board, error)
	BoardCodeExists(context.Context, string) (bool, error)
	ListBoards(context.Context, store.BoardFilter) ([]store.Board, error)
	ListSections(context.Context, string) ([]store.Section, error)
	ListCards(context.Context, string, store.CardFilter) ([]store.Card, error)
	ListTrashedCardsBefore(context.Context, time.Time) ([]store.Card, error)
	InBoardTx(context.Context, string, func(store.BoardTx) error) error
	InsertFolder(context.Context, store.Folder) error
	GetFolder(context.Context, string) (store.Folder, error)
	ListFolders(context.Context, string) ([]store.Folder, error)
	RenameFolder(context.Context, string, string) error
	DeleteFolder(context.Context, string) error
	InsertFollow(context.Context, follow.Edge) error
	DeleteFollow(context.Context, follow.Edge) error
	ListFollowEdges(context.Context) ([]follow.Edge, error)
	Ping(ctx context.Context) error
}

type Service struct {
	store      dataStore
	mirror     follow.Mirror
	visibility *visibility.Controller
	logger     *log.Logger
	codeLength int
	now        func() time.Time
}

// New wires the service. directory may wrap the store with a cache for share
// token lookups; nil uses the store directly.
func New(cfg config.Config, data dataStore, mirror follow.Mirror, directory visibility.Directory, logger *log.Logger) *Service {
	if directory == nil {
		directory = data
	}
	if mirror == nil {
		mirror = follow.NewGraph()
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	codeLength := cfg.BoardCodeLength
	if codeLength <= 0 {
		codeLength = 8
	}
	return &Service{
		store:      data,
		mirror:     mirror,
		visibility: visibility.NewController(directory, cfg.ShareTokenLength),
		logger:     logger,
		codeLength: codeLength,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// finish translates err for the caller and closes the span. Errors outside
// the domain taxonomy are logged here once.
func (s *Service) finish(span trace.Span, op string, err error) error {
	defer span.End()
	if err == nil {
		return nil
	}
	err = translate(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		s.logger.WithFields(log.Fields{"op": op, "error": err.Error()}).Error("command failed")
	}
	return err
}

func requireUser(requester auth.Identity) error {
	if requester.Anonymous() {
		return domainError(http.StatusUnauthorized, codeUnauthorized, "Unauthorized", nil)
	}
	return nil
}

// checkEdit applies the write rule: strangers learn nothing, viewers are
// refused, and trashed boards accept only board-level commands.
func checkEdit(board store.Board, requester auth.Identity, allowTrashed bool) error {
	if !visibility.IsOwner(board, requester.UserID) {
		if visibility.CanView(board, requester.UserID) && !board.Trashed {
			return forbidden("Only the owner can change this board")
		}
		return notFound()
	}
	if board.Trashed && !allowTrashed {
		return invalidTransition("board is in the trash")
	}
	return nil
}

// canRead hides trashed and private boards from everybody but the owner.
func canRead(board store.Board, requester auth.Identity) bool {
	if visibility.IsOwner(board, requester.UserID) {
		return true
	}
	return !board.Trashed && visibility.CanView(board, requester.UserID)
}

// mutate runs fn under the board's lock after the write check.
func (s *Service) mutate(ctx context.Context, boardID string, requester auth.Identity, allowTrashed bool, fn func(store.BoardTx, store.Board) error) error {
	return s.store.InBoardTx(ctx, boardID, func(tx store.BoardTx) error {
		board := tx.Board()
		if err := checkEdit(board, requester, allowTrashed); err != nil {
			return err
		}
		return fn(tx, board)
	})
}

func (s *Service) readableBoard(ctx context.Context, boardID string, requester auth.Identity) (store.Board, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return store.Board{}, err
	}
	if !canRead(board, requester) {
		return store.Board{}, notFound()
	}
	return board, nil
}

func (s *Service) touchBoard(ctx context.Context, tx store.BoardTx) error {
	board := tx.Board()
	board.UpdatedAt = s.now()
	return tx.SaveBoard(ctx, board)
}

func keyAt(items []ordering.Item, index *int) (ordering.Key, error) {
	i := len(items)
	if index != nil {
		i = *index
	}
	before, after := ordering.Neighbors(items, i)
	return ordering.Between(before, after)
}

func cardItems(cards []store.Card, exclude string) []ordering.Item {
	items := make([]ordering.Item, 0, len(cards))
	for _, card := range cards {
		if card.ID != exclude {
			items = append(items, card.Item())
		}
	}
	ordering.Sort(items)
	return items
}

func sectionItems(sections []store.Section, exclude string) []ordering.Item {
	items := make([]ordering.Item, 0, len(sections))
	for _, section := range sections {
		if section.ID != exclude {
			items = append(items, section.Item())
		}
	}
	ordering.Sort(items)
	return items
}

// cardSiblings lists the active cards of one scope as sorted items.
func cardSiblings(ctx context.Context, tx store.BoardTx, sectionID *string, exclude string) ([]ordering.Item, error) {
	cards, err := tx.Cards(ctx, store.CardFilter{Scoped: true, SectionID: sectionID})
	if err != nil {
		return nil, err
	}
	return cardItems(cards, exclude), nil
}

// rebalanceCards respaces a scope and returns its items with the new keys.
// Trashed cards that remember the scope are respaced with it so they keep
// their rank for a later restore.
func (s *Service) rebalanceCards(ctx context.Context, tx store.BoardTx, sectionID *string, items []ordering.Item) ([]ordering.Item, error) {
	trashed, err := trashedFrom(ctx, tx, sectionID)
	if err != nil {
		return nil, err
	}
	merged := append([]ordering.Item(nil), items...)
	for _, card := range trashed {
		merged = append(merged, ordering.Item{ID: card.ID, Key: *card.OriginalPosition, Seq: card.Seq})
	}

	rebalanced := ordering.RebalanceItems(merged)
	active := make([]ordering.Item, 0, len(items))
	keys := make(map[string]ordering.Key, len(items))
	for _, item := range rebalanced {
		card, ok := trashed[item.ID]
		if !ok {
			keys[item.ID] = item.Key
			active = append(active, item)
			continue
		}
		key := item.Key
		card.OriginalPosition = &key
		if err := tx.SaveCard(ctx, card); err != nil {
			return nil, err
		}
	}
	if err := tx.SetCardKeys(ctx, keys); err != nil {
		return nil, err
	}
	scope := "implicit"
	if sectionID != nil {
		scope = *sectionID
	}
	s.logger.WithFields(log.Fields{
		"board_id": tx.Board().ID,
		"scope":    scope,
		"count":    len(active),
		"trashed":  len(trashed),
	}).Info("rebalanced cards")
	return active, nil
}

// trashedFrom returns the trashed cards that would restore into the scope,
// keyed by id.
func trashedFrom(ctx context.Context, tx store.BoardTx, sectionID *string) (map[string]store.Card, error) {
	cards, err := tx.Cards(ctx, store.CardFilter{Trashed: true})
	if err != nil {
		return nil, err
	}
	out := make(map[string]store.Card)
	for _, card := range cards {
		if card.OriginalPosition != nil && card.RemembersScope(sectionID) {
			out[card.ID] = card
		}
	}
	return out, nil
}

func (s *Service) rebalanceSections(ctx context.Context, tx store.BoardTx, items []ordering.Item) ([]ordering.Item, error) {
	rebalanced := ordering.RebalanceItems(items)
	keys := make(map[string]ordering.Key, len(rebalanced))
	for _, item := range rebalanced {
		keys[item.ID] = item.Key
	}
	if err := tx.SetSectionKeys(ctx, keys); err != nil {
		return nil, err
	}
	s.logger.WithFields(log.Fields{"board_id": tx.Board().ID, "scope": "sections", "count": len(rebalanced)}).Info("rebalanced sections")
	return rebalanced, nil
}

// placeCard computes a key for index within a card scope, respacing the scope
// once if the neighbours have no room left between them.
func (s *Service) placeCard(ctx context.Context, tx store.BoardTx, sectionID *string, exclude string, index *int) (ordering.Key, error) {
	siblings, err := cardSiblings(ctx, tx, sectionID, exclude)
	if err != nil {
		return 0, err
	}
	key, err := keyAt(siblings, index)
	if !errors.Is(err, ordering.ErrPrecisionExhausted) {
		return key, err
	}
	siblings, err = s.rebalanceCards(ctx, tx, sectionID, siblings)
	if err != nil {
		return 0, err
	}
	return keyAt(siblings, index)
}

func (s *Service) placeSection(ctx context.Context, tx store.BoardTx, exclude string, index *int) (ordering.Key, error) {
	sections, err := tx.Sections(ctx)
	if err != nil {
		return 0, err
	}
	siblings := sectionItems(sections, exclude)
	key, err := keyAt(siblings, index)
	if !errors.Is(err, ordering.ErrPrecisionExhausted) {
		return key, err
	}
	siblings, err = s.rebalanceSections(ctx, tx, siblings)
	if err != nil {
		return 0, err
	}
	return keyAt(siblings, index)
}

func validIndex(index *int) error {
	if index != nil && *index < 0 {
		return validation("index must not be negative")
	}
	return nil
}

func cleanName(name string) string {
	return strings.TrimSpace(name)
}
