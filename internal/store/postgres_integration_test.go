package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"pinboard/api/internal/follow"
	"pinboard/api/internal/ordering"
)

func setupPostgresStore(t *testing.T, lockTimeout time.Duration) *PostgresStore {
	t.Helper()
	db := openTestDB(t)
	ctx := context.Background()
	resetSchema(ctx, t, db)
	if _, err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db, lockTimeout)
}

func seedBoard(t *testing.T, s *PostgresStore, id string, sections ...Section) Board {
	t.Helper()
	ctx := context.Background()
	owner := "u_" + id
	if _, err := s.EnsureUser(ctx, owner, "Owner"); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	board := Board{ID: id, Code: "code" + id, OwnerID: &owner, Title: "Board", CreatedAt: now, UpdatedAt: now, SectionsEnabled: len(sections) > 0}
	if _, err := s.InsertBoard(ctx, board, sections); err != nil {
		t.Fatalf("insert board: %v", err)
	}
	return board
}

func TestPostgresCardsKeepOrderWithinScope(t *testing.T) {
	s := setupPostgresStore(t, time.Second)
	ctx := context.Background()
	seedBoard(t, s, "b1", Section{ID: "s1", Name: "Todo", OrderKey: ordering.Mid})

	section := "s1"
	err := s.InBoardTx(ctx, "b1", func(tx BoardTx) error {
		for i, key := range []ordering.Key{300, 100, 200} {
			_, err := tx.InsertCard(ctx, Card{
				ID:        []string{"c3", "c1", "c2"}[i],
				SectionID: &section,
				Content:   json.RawMessage(`{"text":"hi"}`),
				OrderKey:  key,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InBoardTx failed: %v", err)
	}

	cards, err := s.ListCards(ctx, "b1", CardFilter{Scoped: true, SectionID: &section})
	if err != nil {
		t.Fatalf("ListCards failed: %v", err)
	}
	var ids []string
	for _, card := range cards {
		ids = append(ids, card.ID)
	}
	if len(ids) != 3 || ids[0] != "c1" || ids[1] != "c2" || ids[2] != "c3" {
		t.Fatalf("unexpected order %v", ids)
	}
	if string(cards[0].Content) != `{"text": "hi"}` && string(cards[0].Content) != `{"text":"hi"}` {
		t.Fatalf("unexpected content %s", cards[0].Content)
	}
}

func TestPostgresRollbackOnError(t *testing.T) {
	s := setupPostgresStore(t, time.Second)
	ctx := context.Background()
	seedBoard(t, s, "b1")

	boom := errors.New("boom")
	err := s.InBoardTx(ctx, "b1", func(tx BoardTx) error {
		if _, err := tx.InsertCard(ctx, Card{ID: "c1", OrderKey: ordering.Mid}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	cards, _ := s.ListCards(ctx, "b1", CardFilter{})
	if len(cards) != 0 {
		t.Fatalf("expected rollback, found %d cards", len(cards))
	}
}

func TestPostgresBoardLockTimesOutAsConflict(t *testing.T) {
	s := setupPostgresStore(t, 200*time.Millisecond)
	ctx := context.Background()
	seedBoard(t, s, "b1")

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.InBoardTx(ctx, "b1", func(BoardTx) error {
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	err := s.InBoardTx(ctx, "b1", func(BoardTx) error { return nil })
	close(release)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict while the board is locked, got %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("holder failed: %v", err)
	}
}

func TestPostgresDeleteSectionDetachesTrashedCards(t *testing.T) {
	s := setupPostgresStore(t, time.Second)
	ctx := context.Background()
	seedBoard(t, s, "b1",
		Section{ID: "s1", OrderKey: 100},
		Section{ID: "s2", OrderKey: 200},
	)

	s1 := "s1"
	now := time.Now().UTC()
	pos := ordering.Key(10)
	err := s.InBoardTx(ctx, "b1", func(tx BoardTx) error {
		if _, err := tx.InsertCard(ctx, Card{ID: "live", SectionID: &s1, OrderKey: 10}); err != nil {
			return err
		}
		if _, err := tx.InsertCard(ctx, Card{ID: "binned", SectionID: &s1, OrderKey: 20, Trashed: true, TrashedAt: &now, OriginalPosition: &pos, OriginalSectionID: &s1}); err != nil {
			return err
		}
		return tx.DeleteSection(ctx, "s1")
	})
	if err != nil {
		t.Fatalf("InBoardTx failed: %v", err)
	}

	active, _ := s.ListCards(ctx, "b1", CardFilter{})
	if len(active) != 0 {
		t.Fatalf("expected active cards removed, got %d", len(active))
	}
	trashed, _ := s.ListCards(ctx, "b1", CardFilter{Trashed: true})
	if len(trashed) != 1 || trashed[0].SectionID != nil {
		t.Fatalf("expected one detached trashed card, got %+v", trashed)
	}
	if trashed[0].OriginalSectionID == nil || *trashed[0].OriginalSectionID != "s1" {
		t.Fatal("expected the original section to be remembered")
	}
}

func TestPostgresShareTokenIsUnique(t *testing.T) {
	s := setupPostgresStore(t, time.Second)
	ctx := context.Background()
	seedBoard(t, s, "b1")
	seedBoard(t, s, "b2")

	token := "shared"
	enable := func(boardID string) error {
		return s.InBoardTx(ctx, boardID, func(tx BoardTx) error {
			board := tx.Board()
			board.IsPublic = true
			board.ShareToken = &token
			return tx.SaveBoard(ctx, board)
		})
	}
	if err := enable("b1"); err != nil {
		t.Fatalf("enable b1: %v", err)
	}
	if err := enable("b2"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for a duplicate token, got %v", err)
	}
	board, err := s.GetBoardByShareToken(ctx, token)
	if err != nil || board.ID != "b1" {
		t.Fatalf("expected b1 by token, got %+v (%v)", board, err)
	}
}

func TestPostgresFollowsAndUserDeletion(t *testing.T) {
	s := setupPostgresStore(t, time.Second)
	ctx := context.Background()
	board := seedBoard(t, s, "b1")
	owner := *board.OwnerID
	if _, err := s.EnsureUser(ctx, "fan", "Fan"); err != nil {
		t.Fatal(err)
	}

	if err := s.InsertFollow(ctx, follow.Edge{Follower: "fan", Followee: owner}); err != nil {
		t.Fatalf("insert follow: %v", err)
	}
	if err := s.InsertFollow(ctx, follow.Edge{Follower: "fan", Followee: owner}); err != nil {
		t.Fatalf("repeat follow should be a no-op: %v", err)
	}
	if err := s.InsertFollow(ctx, follow.Edge{Follower: "fan", Followee: "ghost"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}

	if err := s.DeleteUser(ctx, owner); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	orphan, err := s.GetBoard(ctx, "b1")
	if err != nil {
		t.Fatalf("board should survive its owner: %v", err)
	}
	if orphan.OwnerID != nil {
		t.Fatalf("expected orphaned board, got owner %v", *orphan.OwnerID)
	}
	edges, _ := s.ListFollowEdges(ctx)
	if len(edges) != 0 {
		t.Fatalf("expected follows removed with the user, got %v", edges)
	}
}
