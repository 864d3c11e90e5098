package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"pinboard/api/internal/follow"
	"pinboard/api/internal/ordering"
)

type PostgresStore struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func NewPostgresStore(db *sql.DB, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) EnsureUser(ctx context.Context, userID, displayName string) (User, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, userID, displayName)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", classify(err))
	}
	return s.GetUser(ctx, userID)
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, created_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", classify(err))
	}
	return user, nil
}

// DeleteUser relies on the foreign keys: boards are orphaned, folders and
// follow edges go with the user.
func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", classify(err))
	}
	return expectRows(res, "delete user")
}

const boardColumns = `
	id, code, owner_id, title, background, dominant_color, format, is_pinned,
	trashed, trashed_at, last_viewed_at, folder_id, sections_enabled, is_public,
	share_token, created_at, updated_at`

func scanBoard(row rowScanner) (Board, error) {
	var b Board
	err := row.Scan(
		&b.ID, &b.Code, &b.OwnerID, &b.Title, &b.Background, &b.DominantColor, &b.Format, &b.IsPinned,
		&b.Trashed, &b.TrashedAt, &b.LastViewedAt, &b.FolderID, &b.SectionsEnabled, &b.IsPublic,
		&b.ShareToken, &b.CreatedAt, &b.UpdatedAt,
	)
	return b, err
}

func (s *PostgresStore) InsertBoard(ctx context.Context, board Board, sections []Section) ([]Section, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insert board: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO boards (`+boardColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, boardArgs(board)...)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("insert board: %w", classify(err))
	}
	out := make([]Section, 0, len(sections))
	for _, section := range sections {
		section.BoardID = board.ID
		inserted, err := insertSection(ctx, tx, section)
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		out = append(out, inserted)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert board: %w", classify(err))
	}
	return out, nil
}

func boardArgs(b Board) []any {
	return []any{
		b.ID, b.Code, b.OwnerID, b.Title, b.Background, b.DominantColor, b.Format, b.IsPinned,
		b.Trashed, b.TrashedAt, b.LastViewedAt, b.FolderID, b.SectionsEnabled, b.IsPublic,
		b.ShareToken, b.CreatedAt, b.UpdatedAt,
	}
}

func (s *PostgresStore) GetBoard(ctx context.Context, boardID string) (Board, error) {
	board, err := scanBoard(s.db.QueryRowContext(ctx, `SELECT `+boardColumns+` FROM boards WHERE id=$1`, boardID))
	if err != nil {
		return Board{}, fmt.Errorf("get board: %w", classify(err))
	}
	return board, nil
}

func (s *PostgresStore) GetBoardByCode(ctx context.Context, code string) (Board, error) {
	board, err := scanBoard(s.db.QueryRowContext(ctx, `SELECT `+boardColumns+` FROM boards WHERE code=$1`, code))
	if err != nil {
		return Board{}, fmt.Errorf("get board by code: %w", classify(err))
	}
	return board, nil
}

func (s *PostgresStore) GetBoardByShareToken(ctx context.Context, token string) (Board, error) {
	board, err := scanBoard(s.db.QueryRowContext(ctx, `SELECT `+boardColumns+` FROM boards WHERE share_token=$1`, token))
	if err != nil {
		return Board{}, fmt.Errorf("get board by token: %w", classify(err))
	}
	return board, nil
}

func (s *PostgresStore) ShareTokenExists(ctx context.Context, token string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM boards WHERE share_token=$1)`, token).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check share token: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) BoardCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM boards WHERE code=$1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check board code: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListBoards(ctx context.Context, filter BoardFilter) ([]Board, error) {
	query := `SELECT ` + boardColumns + ` FROM boards WHERE owner_id=$1`
	args := []any{filter.OwnerID}
	switch filter.View {
	case ViewTrashed:
		query += ` AND trashed`
	case ViewPinned:
		query += ` AND is_pinned AND NOT trashed`
	default:
		query += ` AND NOT trashed`
	}
	if filter.FolderID != nil {
		args = append(args, *filter.FolderID)
		query += ` AND folder_id=$` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY is_pinned DESC, updated_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	boards := make([]Board, 0)
	for rows.Next() {
		board, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		boards = append(boards, board)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	return boards, nil
}

func (s *PostgresStore) ListSections(ctx context.Context, boardID string) ([]Section, error) {
	return listSections(ctx, s.db, boardID)
}

func (s *PostgresStore) ListCards(ctx context.Context, boardID string, filter CardFilter) ([]Card, error) {
	return listCards(ctx, s.db, boardID, filter)
}

func (s *PostgresStore) ListTrashedCardsBefore(ctx context.Context, cutoff time.Time) ([]Card, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cardColumns+`
		FROM cards
		WHERE trashed AND trashed_at < $1
		ORDER BY trashed_at
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expired cards: %w", err)
	}
	return collectCards(rows)
}

// InBoardTx runs fn inside a transaction holding the board row lock. Waiting
// longer than the configured lock timeout fails with ErrConflict.
func (s *PostgresStore) InBoardTx(ctx context.Context, boardID string, fn func(BoardTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin board tx: %w", err)
	}
	if s.lockTimeout > 0 {
		timeout := strconv.FormatInt(s.lockTimeout.Milliseconds(), 10) + "ms"
		if _, err := tx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}
	board, err := scanBoard(tx.QueryRowContext(ctx, `SELECT `+boardColumns+` FROM boards WHERE id=$1 FOR UPDATE`, boardID))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("lock board: %w", classify(err))
	}

	if err := fn(&pgBoardTx{tx: tx, board: board}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit board tx: %w", classify(err))
	}
	return nil
}

func (s *PostgresStore) InsertFolder(ctx context.Context, folder Folder) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO folders (id, owner_id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, folder.ID, folder.OwnerID, folder.Name, folder.CreatedAt, folder.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert folder: %w", classify(err))
	}
	return nil
}

func (s *PostgresStore) GetFolder(ctx context.Context, folderID string) (Folder, error) {
	var folder Folder
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, created_at, updated_at
		FROM folders
		WHERE id=$1
	`, folderID).Scan(&folder.ID, &folder.OwnerID, &folder.Name, &folder.CreatedAt, &folder.UpdatedAt)
	if err != nil {
		return Folder{}, fmt.Errorf("get folder: %w", classify(err))
	}
	return folder, nil
}

func (s *PostgresStore) ListFolders(ctx context.Context, ownerID string) ([]Folder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, created_at, updated_at
		FROM folders
		WHERE owner_id=$1
		ORDER BY name, id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	folders := make([]Folder, 0)
	for rows.Next() {
		var folder Folder
		if err := rows.Scan(&folder.ID, &folder.OwnerID, &folder.Name, &folder.CreatedAt, &folder.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, folder)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folders: %w", err)
	}
	return folders, nil
}

func (s *PostgresStore) RenameFolder(ctx context.Context, folderID, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE folders SET name=$2, updated_at=NOW() WHERE id=$1`, folderID, name)
	if err != nil {
		return fmt.Errorf("rename folder: %w", classify(err))
	}
	return expectRows(res, "rename folder")
}

// DeleteFolder leaves the folder's boards in place; the foreign key clears
// their folder_id.
func (s *PostgresStore) DeleteFolder(ctx context.Context, folderID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM folders WHERE id=$1`, folderID)
	if err != nil {
		return fmt.Errorf("delete folder: %w", classify(err))
	}
	return expectRows(res, "delete folder")
}

func (s *PostgresStore) InsertFollow(ctx context.Context, edge follow.Edge) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO follows (follower_id, followee_id)
		VALUES ($1, $2)
		ON CONFLICT (follower_id, followee_id) DO NOTHING
	`, edge.Follower, edge.Followee)
	if err != nil {
		return fmt.Errorf("insert follow: %w", classify(err))
	}
	return nil
}

func (s *PostgresStore) DeleteFollow(ctx context.Context, edge follow.Edge) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM follows WHERE follower_id=$1 AND followee_id=$2`, edge.Follower, edge.Followee)
	if err != nil {
		return fmt.Errorf("delete follow: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFollowEdges(ctx context.Context) ([]follow.Edge, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT follower_id, followee_id FROM follows ORDER BY follower_id, followee_id`)
	if err != nil {
		return nil, fmt.Errorf("list follows: %w", err)
	}
	defer rows.Close()

	edges := make([]follow.Edge, 0)
	for rows.Next() {
		var edge follow.Edge
		if err := rows.Scan(&edge.Follower, &edge.Followee); err != nil {
			return nil, fmt.Errorf("scan follow: %w", err)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate follows: %w", err)
	}
	return edges, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type pgBoardTx struct {
	tx    *sql.Tx
	board Board
}

func (t *pgBoardTx) Board() Board { return t.board }

func (t *pgBoardTx) SaveBoard(ctx context.Context, board Board) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE boards SET
			code=$2, owner_id=$3, title=$4, background=$5, dominant_color=$6, format=$7,
			is_pinned=$8, trashed=$9, trashed_at=$10, last_viewed_at=$11, folder_id=$12,
			sections_enabled=$13, is_public=$14, share_token=$15, updated_at=$16
		WHERE id=$1
	`, board.ID, board.Code, board.OwnerID, board.Title, board.Background, board.DominantColor, board.Format,
		board.IsPinned, board.Trashed, board.TrashedAt, board.LastViewedAt, board.FolderID,
		board.SectionsEnabled, board.IsPublic, board.ShareToken, board.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save board: %w", classify(err))
	}
	t.board = board
	return nil
}

func (t *pgBoardTx) DeleteBoard(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM boards WHERE id=$1`, t.board.ID); err != nil {
		return fmt.Errorf("delete board: %w", classify(err))
	}
	return nil
}

func (t *pgBoardTx) Sections(ctx context.Context) ([]Section, error) {
	return listSections(ctx, t.tx, t.board.ID)
}

func (t *pgBoardTx) InsertSection(ctx context.Context, section Section) (Section, error) {
	section.BoardID = t.board.ID
	return insertSection(ctx, t.tx, section)
}

func (t *pgBoardTx) SaveSection(ctx context.Context, section Section) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sections SET name=$3, order_key=$4, updated_at=$5
		WHERE id=$1 AND board_id=$2
	`, section.ID, t.board.ID, section.Name, int64(section.OrderKey), section.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save section: %w", classify(err))
	}
	return expectRows(res, "save section")
}

func (t *pgBoardTx) DeleteSection(ctx context.Context, sectionID string) error {
	if _, err := t.tx.ExecContext(ctx, `
		DELETE FROM cards WHERE board_id=$1 AND section_id=$2 AND NOT trashed
	`, t.board.ID, sectionID); err != nil {
		return fmt.Errorf("delete section cards: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM sections WHERE id=$1 AND board_id=$2`, sectionID, t.board.ID)
	if err != nil {
		return fmt.Errorf("delete section: %w", classify(err))
	}
	return expectRows(res, "delete section")
}

func (t *pgBoardTx) SetSectionKeys(ctx context.Context, keys map[string]ordering.Key) error {
	for _, id := range sortedIDs(keys) {
		res, err := t.tx.ExecContext(ctx, `
			UPDATE sections SET order_key=$3 WHERE id=$1 AND board_id=$2
		`, id, t.board.ID, int64(keys[id]))
		if err != nil {
			return fmt.Errorf("set section key: %w", classify(err))
		}
		if err := expectRows(res, "set section key"); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgBoardTx) Cards(ctx context.Context, filter CardFilter) ([]Card, error) {
	return listCards(ctx, t.tx, t.board.ID, filter)
}

func (t *pgBoardTx) Card(ctx context.Context, cardID string) (Card, error) {
	card, err := scanCard(t.tx.QueryRowContext(ctx, `
		SELECT `+cardColumns+` FROM cards WHERE id=$1 AND board_id=$2
	`, cardID, t.board.ID))
	if err != nil {
		return Card{}, fmt.Errorf("get card: %w", classify(err))
	}
	return card, nil
}

func (t *pgBoardTx) InsertCard(ctx context.Context, card Card) (Card, error) {
	card.BoardID = t.board.ID
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO cards (id, board_id, section_id, content, order_key, trashed, trashed_at,
			original_position, original_section_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9, $10, $11)
		RETURNING seq
	`, card.ID, card.BoardID, card.SectionID, contentArg(card.Content), int64(card.OrderKey), card.Trashed,
		card.TrashedAt, keyArg(card.OriginalPosition), card.OriginalSectionID, card.CreatedAt, card.UpdatedAt,
	).Scan(&card.Seq)
	if err != nil {
		return Card{}, fmt.Errorf("insert card: %w", classify(err))
	}
	return card, nil
}

func (t *pgBoardTx) SaveCard(ctx context.Context, card Card) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE cards SET
			section_id=$3, content=$4::jsonb, order_key=$5, trashed=$6, trashed_at=$7,
			original_position=$8, original_section_id=$9, updated_at=$10
		WHERE id=$1 AND board_id=$2
	`, card.ID, t.board.ID, card.SectionID, contentArg(card.Content), int64(card.OrderKey), card.Trashed,
		card.TrashedAt, keyArg(card.OriginalPosition), card.OriginalSectionID, card.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save card: %w", classify(err))
	}
	return expectRows(res, "save card")
}

func (t *pgBoardTx) DeleteCard(ctx context.Context, cardID string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM cards WHERE id=$1 AND board_id=$2`, cardID, t.board.ID)
	if err != nil {
		return fmt.Errorf("delete card: %w", classify(err))
	}
	return expectRows(res, "delete card")
}

func (t *pgBoardTx) SetCardKeys(ctx context.Context, keys map[string]ordering.Key) error {
	for _, id := range sortedIDs(keys) {
		res, err := t.tx.ExecContext(ctx, `
			UPDATE cards SET order_key=$3 WHERE id=$1 AND board_id=$2
		`, id, t.board.ID, int64(keys[id]))
		if err != nil {
			return fmt.Errorf("set card key: %w", classify(err))
		}
		if err := expectRows(res, "set card key"); err != nil {
			return err
		}
	}
	return nil
}

func insertSection(ctx context.Context, q queryer, section Section) (Section, error) {
	err := q.QueryRowContext(ctx, `
		INSERT INTO sections (id, board_id, name, order_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq
	`, section.ID, section.BoardID, section.Name, int64(section.OrderKey), section.CreatedAt, section.UpdatedAt).Scan(&section.Seq)
	if err != nil {
		return Section{}, fmt.Errorf("insert section: %w", classify(err))
	}
	return section, nil
}

func listSections(ctx context.Context, q queryer, boardID string) ([]Section, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, board_id, name, order_key, seq, created_at, updated_at
		FROM sections
		WHERE board_id=$1
		ORDER BY order_key, seq, id
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()

	sections := make([]Section, 0)
	for rows.Next() {
		var section Section
		var key int64
		if err := rows.Scan(&section.ID, &section.BoardID, &section.Name, &key, &section.Seq, &section.CreatedAt, &section.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		section.OrderKey = ordering.Key(key)
		sections = append(sections, section)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sections: %w", err)
	}
	return sections, nil
}

const cardColumns = `
	id, board_id, section_id, content::text, order_key, seq, trashed, trashed_at,
	original_position, original_section_id, created_at, updated_at`

func scanCard(row rowScanner) (Card, error) {
	var (
		c        Card
		content  string
		key      int64
		original sql.NullInt64
	)
	err := row.Scan(
		&c.ID, &c.BoardID, &c.SectionID, &content, &key, &c.Seq, &c.Trashed, &c.TrashedAt,
		&original, &c.OriginalSectionID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return Card{}, err
	}
	c.Content = json.RawMessage(content)
	c.OrderKey = ordering.Key(key)
	if original.Valid {
		pos := ordering.Key(original.Int64)
		c.OriginalPosition = &pos
	}
	return c, nil
}

func listCards(ctx context.Context, q queryer, boardID string, filter CardFilter) ([]Card, error) {
	var query strings.Builder
	query.WriteString(`SELECT ` + cardColumns + ` FROM cards WHERE board_id=$1 AND trashed=$2`)
	args := []any{boardID, filter.Trashed}
	if filter.Scoped {
		if filter.SectionID == nil {
			query.WriteString(` AND section_id IS NULL`)
		} else {
			args = append(args, *filter.SectionID)
			query.WriteString(` AND section_id=$3`)
		}
	}
	if filter.Trashed {
		query.WriteString(` ORDER BY trashed_at DESC, seq DESC`)
	} else {
		query.WriteString(` ORDER BY order_key, seq, id`)
	}

	rows, err := q.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	return collectCards(rows)
}

func collectCards(rows *sql.Rows) ([]Card, error) {
	defer rows.Close()
	cards := make([]Card, 0)
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return cards, nil
}

func contentArg(content json.RawMessage) string {
	if len(content) == 0 {
		return "{}"
	}
	return string(content)
}

func keyArg(key *ordering.Key) any {
	if key == nil {
		return nil
	}
	return int64(*key)
}

func sortedIDs(keys map[string]ordering.Key) []string {
	ids := make([]string, 0, len(keys))
	for id := range keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func expectRows(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
