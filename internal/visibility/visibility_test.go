package visibility

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"pinboard/api/internal/store"
)

type fakeDirectory struct {
	boards       map[string]store.Board
	byTokenCalls int
	existsFn     func(string) bool
}

func newFakeDirectory(boards ...store.Board) *fakeDirectory {
	d := &fakeDirectory{boards: map[string]store.Board{}}
	for _, b := range boards {
		d.boards[b.ID] = b
	}
	return d
}

func (d *fakeDirectory) GetBoard(_ context.Context, boardID string) (store.Board, error) {
	board, ok := d.boards[boardID]
	if !ok {
		return store.Board{}, store.ErrNotFound
	}
	return board, nil
}

func (d *fakeDirectory) GetBoardByShareToken(_ context.Context, token string) (store.Board, error) {
	d.byTokenCalls++
	for _, board := range d.boards {
		if board.ShareToken != nil && *board.ShareToken == token {
			return board, nil
		}
	}
	return store.Board{}, store.ErrNotFound
}

func (d *fakeDirectory) ShareTokenExists(_ context.Context, token string) (bool, error) {
	if d.existsFn != nil {
		return d.existsFn(token), nil
	}
	_, err := d.GetBoardByShareToken(context.Background(), token)
	return err == nil, nil
}

func strPtr(v string) *string { return &v }

func TestEnableIsIdempotentAndDisableKeepsToken(t *testing.T) {
	ctx := context.Background()
	dir := newFakeDirectory()
	c := NewController(dir, 0)

	board := store.Board{ID: "y", OwnerID: strPtr("u1")}
	first, err := c.Enable(ctx, &board)
	if err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	if len(first) != DefaultTokenLength {
		t.Fatalf("expected %d char token, got %q", DefaultTokenLength, first)
	}
	second, err := c.Enable(ctx, &board)
	if err != nil {
		t.Fatalf("second Enable failed: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same token, got %q then %q", first, second)
	}

	c.Disable(&board)
	if board.IsPublic {
		t.Fatal("expected board to be private")
	}
	if board.ShareToken == nil || *board.ShareToken != first {
		t.Fatal("disable must keep the token")
	}
	third, _ := c.Enable(ctx, &board)
	if third != first {
		t.Fatalf("re-enable issued a new token %q", third)
	}
}

func TestEnableRegeneratesOnCollision(t *testing.T) {
	dir := newFakeDirectory()
	dir.existsFn = func(token string) bool { return token == "taken" }
	c := NewController(dir, 5)
	tokens := []string{"taken", "taken", "fresh"}
	c.newToken = func(int) (string, error) {
		token := tokens[0]
		tokens = tokens[1:]
		return token, nil
	}

	board := store.Board{ID: "b"}
	token, err := c.Enable(context.Background(), &board)
	if err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	if token != "fresh" {
		t.Fatalf("expected regenerated token, got %q", token)
	}

	c.newToken = func(int) (string, error) { return "taken", nil }
	other := store.Board{ID: "c"}
	if _, err := c.Enable(context.Background(), &other); !errors.Is(err, ErrTokenSpaceExhausted) {
		t.Fatalf("expected exhaustion after repeated collisions, got %v", err)
	}
	if other.IsPublic || other.ShareToken != nil {
		t.Fatal("failed enable must leave the board untouched")
	}
}

func TestResolveHidesPrivateBoards(t *testing.T) {
	ctx := context.Background()
	public := store.Board{ID: "pub", IsPublic: true, ShareToken: strPtr("tok-public")}
	private := store.Board{ID: "priv", IsPublic: false, ShareToken: strPtr("tok-private")}
	trashed := store.Board{ID: "bin", IsPublic: true, Trashed: true, ShareToken: strPtr("tok-trashed")}
	c := NewController(newFakeDirectory(public, private, trashed), 0)

	board, err := c.Resolve(ctx, "tok-public")
	if err != nil || board.ID != "pub" {
		t.Fatalf("expected public board, got %+v (%v)", board, err)
	}

	_, missingErr := c.Resolve(ctx, "tok-missing")
	_, privateErr := c.Resolve(ctx, "tok-private")
	_, trashedErr := c.Resolve(ctx, "tok-trashed")
	_, emptyErr := c.Resolve(ctx, "")
	for name, err := range map[string]error{"missing": missingErr, "private": privateErr, "trashed": trashedErr, "empty": emptyErr} {
		if err != ErrNotFound {
			t.Fatalf("%s: expected ErrNotFound, got %v", name, err)
		}
	}
	if privateErr.Error() != missingErr.Error() {
		t.Fatal("private and missing tokens must be indistinguishable")
	}
}

func TestCanView(t *testing.T) {
	owned := store.Board{OwnerID: strPtr("owner")}
	public := store.Board{OwnerID: strPtr("owner"), IsPublic: true}
	orphan := store.Board{}
	orphanPublic := store.Board{IsPublic: true}

	cases := []struct {
		name      string
		board     store.Board
		requester string
		view      bool
		edit      bool
	}{
		{name: "owner private", board: owned, requester: "owner", view: true, edit: true},
		{name: "stranger private", board: owned, requester: "other", view: false},
		{name: "anonymous private", board: owned, requester: "", view: false},
		{name: "stranger public", board: public, requester: "other", view: true},
		{name: "anonymous public", board: public, requester: "", view: true},
		{name: "orphan private", board: orphan, requester: "other", view: false},
		{name: "orphan anonymous", board: orphan, requester: "", view: false},
		{name: "orphan public", board: orphanPublic, requester: "", view: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanView(tc.board, tc.requester); got != tc.view {
				t.Fatalf("CanView = %v, want %v", got, tc.view)
			}
			if got := CanEdit(tc.board, tc.requester); got != tc.edit {
				t.Fatalf("CanEdit = %v, want %v", got, tc.edit)
			}
		})
	}
}

func TestTokenCacheServesRepeatLookups(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	logger, _ := test.NewNullLogger()

	board := store.Board{ID: "b1", IsPublic: true, ShareToken: strPtr("tok")}
	dir := newFakeDirectory(board)
	cache := NewTokenCache(dir, client, time.Hour, logger)
	c := NewController(cache, 0)

	for i := 0; i < 3; i++ {
		got, err := c.Resolve(ctx, "tok")
		if err != nil || got.ID != "b1" {
			t.Fatalf("resolve %d: %+v (%v)", i, got, err)
		}
	}
	if dir.byTokenCalls != 1 {
		t.Fatalf("expected one directory token lookup, got %d", dir.byTokenCalls)
	}
	if got, _ := mr.Get("pinboard:share:tok"); got != "b1" {
		t.Fatalf("expected cached board id, got %q", got)
	}

	board.IsPublic = false
	dir.boards["b1"] = board
	if _, err := c.Resolve(ctx, "tok"); err != ErrNotFound {
		t.Fatalf("expected cached token of a private board to resolve to ErrNotFound, got %v", err)
	}

	delete(dir.boards, "b1")
	if _, err := c.Resolve(ctx, "tok"); err != ErrNotFound {
		t.Fatalf("expected purged board to resolve to ErrNotFound, got %v", err)
	}
	if mr.Exists("pinboard:share:tok") {
		t.Fatal("expected stale cache entry to be evicted")
	}
}
