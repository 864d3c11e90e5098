// Package visibility manages the public flag and share token of a board and
// decides who may read it.
package visibility

import (
	"context"
	"errors"
	"fmt"

	"pinboard/api/internal/store"
	"pinboard/api/internal/util"
)

// ErrNotFound is returned for unknown tokens and for tokens of boards that are
// not currently public. Both cases return this exact value.
var ErrNotFound = errors.New("board not found")

var ErrTokenSpaceExhausted = errors.New("could not generate an unused share token")

const (
	DefaultTokenLength = 32
	maxTokenAttempts   = 5
)

// Directory looks boards up by id or share token.
type Directory interface {
	GetBoard(ctx context.Context, boardID string) (store.Board, error)
	GetBoardByShareToken(ctx context.Context, token string) (store.Board, error)
	ShareTokenExists(ctx context.Context, token string) (bool, error)
}

type Controller struct {
	directory   Directory
	tokenLength int
	newToken    func(int) (string, error)
}

func NewController(directory Directory, tokenLength int) *Controller {
	if tokenLength <= 0 {
		tokenLength = DefaultTokenLength
	}
	return &Controller{directory: directory, tokenLength: tokenLength, newToken: util.NewCode}
}

// Enable makes board public. The first call issues a token; later calls reuse
// it so existing links keep working.
func (c *Controller) Enable(ctx context.Context, board *store.Board) (string, error) {
	if board.ShareToken == nil {
		token, err := c.issueToken(ctx)
		if err != nil {
			return "", err
		}
		board.ShareToken = &token
	}
	board.IsPublic = true
	return *board.ShareToken, nil
}

// Disable hides board. The token is kept for a later Enable.
func (c *Controller) Disable(board *store.Board) {
	board.IsPublic = false
}

func (c *Controller) issueToken(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := c.newToken(c.tokenLength)
		if err != nil {
			return "", fmt.Errorf("generate share token: %w", err)
		}
		taken, err := c.directory.ShareTokenExists(ctx, token)
		if err != nil {
			return "", fmt.Errorf("check share token: %w", err)
		}
		if !taken {
			return token, nil
		}
	}
	return "", ErrTokenSpaceExhausted
}

// Resolve returns the public board behind token. Private, trashed and unknown
// boards are indistinguishable to the caller.
func (c *Controller) Resolve(ctx context.Context, token string) (store.Board, error) {
	if token == "" {
		return store.Board{}, ErrNotFound
	}
	board, err := c.directory.GetBoardByShareToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return store.Board{}, ErrNotFound
	}
	if err != nil {
		return store.Board{}, err
	}
	if !board.IsPublic || board.Trashed {
		return store.Board{}, ErrNotFound
	}
	return board, nil
}
