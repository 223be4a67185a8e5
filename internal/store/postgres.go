package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const defaultQueryTimeout = 10 * time.Second

type PostgresStore struct {
	db           *sql.DB
	queryTimeout time.Duration
}

func NewPostgresStore(db *sql.DB, queryTimeout time.Duration) *PostgresStore {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &PostgresStore{db: db, queryTimeout: queryTimeout}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// bound caps a single store operation, including any transaction it
// opens, at the configured query timeout.
func (s *PostgresStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.queryTimeout)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// ── Users ──

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Name, user.Email, user.PasswordHash)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, created_at FROM users WHERE email=$1
	`, email).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, created_at FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ── Boards ──

func (s *PostgresStore) InsertBoard(ctx context.Context, board Board) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO boards (id, name, owner_id) VALUES ($1, $2, $3)
	`, board.ID, board.Name, board.OwnerID)
	if err != nil {
		return fmt.Errorf("insert board: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBoard(ctx context.Context, boardID string) (Board, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var board Board
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, created_at, updated_at FROM boards WHERE id=$1
	`, boardID).Scan(&board.ID, &board.Name, &board.OwnerID, &board.CreatedAt, &board.UpdatedAt)
	if err != nil {
		return Board{}, err
	}
	return board, nil
}

// ListBoardsForUser returns boards the user owns plus boards where the
// user holds a membership, without duplicates.
func (s *PostgresStore) ListBoardsForUser(ctx context.Context, userID string) ([]Board, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT b.id, b.name, b.owner_id, b.created_at, b.updated_at
		FROM boards b
		LEFT JOIN board_members m ON m.board_id = b.id
		WHERE b.owner_id = $1 OR m.user_id = $1
		ORDER BY b.created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	items := make([]Board, 0)
	for rows.Next() {
		var board Board
		if err := rows.Scan(&board.ID, &board.Name, &board.OwnerID, &board.CreatedAt, &board.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		items = append(items, board)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateBoardName(ctx context.Context, boardID, name string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		UPDATE boards SET name=$2, updated_at=NOW() WHERE id=$1
	`, boardID, name)
	if err != nil {
		return fmt.Errorf("update board: %w", err)
	}
	return nil
}

// DeleteBoard removes the board; lists, cards, labels, members,
// comments and join rows go with it via foreign keys.
func (s *PostgresStore) DeleteBoard(ctx context.Context, boardID string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `DELETE FROM boards WHERE id=$1`, boardID)
	if err != nil {
		return fmt.Errorf("delete board: %w", err)
	}
	return nil
}

// ── Members ──

func (s *PostgresStore) GetMember(ctx context.Context, boardID, userID string) (Member, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var member Member
	err := s.db.QueryRowContext(ctx, `
		SELECT m.id, m.board_id, m.user_id, m.role, u.name, u.email
		FROM board_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.board_id=$1 AND m.user_id=$2
	`, boardID, userID).Scan(&member.ID, &member.BoardID, &member.UserID, &member.Role, &member.UserName, &member.UserEmail)
	if err != nil {
		return Member{}, err
	}
	return member, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, boardID string) ([]Member, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.board_id, m.user_id, m.role, u.name, u.email
		FROM board_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.board_id=$1
		ORDER BY u.name
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	items := make([]Member, 0)
	for rows.Next() {
		var member Member
		if err := rows.Scan(&member.ID, &member.BoardID, &member.UserID, &member.Role, &member.UserName, &member.UserEmail); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		items = append(items, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertMember(ctx context.Context, member Member) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO board_members (id, board_id, user_id, role)
		VALUES ($1, $2, $3, $4)
	`, member.ID, member.BoardID, member.UserID, member.Role)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateMemberRole(ctx context.Context, boardID, userID, role string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		UPDATE board_members SET role=$3 WHERE board_id=$1 AND user_id=$2
	`, boardID, userID, role)
	if err != nil {
		return false, fmt.Errorf("update member role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update member role: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteMember(ctx context.Context, boardID, userID string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM board_members WHERE board_id=$1 AND user_id=$2
	`, boardID, userID)
	if err != nil {
		return false, fmt.Errorf("delete member: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete member: %w", err)
	}
	return affected > 0, nil
}

// ── Lists ──

func (s *PostgresStore) GetList(ctx context.Context, listID string) (List, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var item List
	err := s.db.QueryRowContext(ctx, `
		SELECT id, board_id, title, position, created_at, updated_at FROM lists WHERE id=$1
	`, listID).Scan(&item.ID, &item.BoardID, &item.Title, &item.Position, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return List{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListsByBoard(ctx context.Context, boardID string) ([]List, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, board_id, title, position, created_at, updated_at
		FROM lists WHERE board_id=$1 ORDER BY position
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()

	items := make([]List, 0)
	for rows.Next() {
		var item List
		if err := rows.Scan(&item.ID, &item.BoardID, &item.Title, &item.Position, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lists: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateListTitle(ctx context.Context, listID, title string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		UPDATE lists SET title=$2, updated_at=NOW() WHERE id=$1
	`, listID, title)
	if err != nil {
		return fmt.Errorf("update list: %w", err)
	}
	return nil
}

// ── Cards ──

func (s *PostgresStore) GetCard(ctx context.Context, cardID string) (Card, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var item Card
	err := s.db.QueryRowContext(ctx, `
		SELECT id, list_id, title, description, due_date, position, created_at, updated_at
		FROM cards WHERE id=$1
	`, cardID).Scan(&item.ID, &item.ListID, &item.Title, &item.Description, &item.DueDate, &item.Position, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Card{}, err
	}
	return item, nil
}

func (s *PostgresStore) CardsByList(ctx context.Context, listID string) ([]Card, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, list_id, title, description, due_date, position, created_at, updated_at
		FROM cards WHERE list_id=$1 ORDER BY position
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	items := make([]Card, 0)
	for rows.Next() {
		var item Card
		if err := rows.Scan(&item.ID, &item.ListID, &item.Title, &item.Description, &item.DueDate, &item.Position, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateCardContent(ctx context.Context, card Card) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		UPDATE cards SET title=$2, description=$3, due_date=$4, updated_at=NOW() WHERE id=$1
	`, card.ID, card.Title, card.Description, card.DueDate)
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	return nil
}

// ── Labels ──

func (s *PostgresStore) GetLabel(ctx context.Context, labelID string) (Label, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var item Label
	err := s.db.QueryRowContext(ctx, `
		SELECT id, board_id, name, color FROM labels WHERE id=$1
	`, labelID).Scan(&item.ID, &item.BoardID, &item.Name, &item.Color)
	if err != nil {
		return Label{}, err
	}
	return item, nil
}

func (s *PostgresStore) LabelsByBoard(ctx context.Context, boardID string) ([]Label, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, board_id, name, color FROM labels WHERE board_id=$1 ORDER BY name
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()

	items := make([]Label, 0)
	for rows.Next() {
		var item Label
		if err := rows.Scan(&item.ID, &item.BoardID, &item.Name, &item.Color); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate labels: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertLabel(ctx context.Context, label Label) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO labels (id, board_id, name, color) VALUES ($1, $2, $3, $4)
	`, label.ID, label.BoardID, label.Name, label.Color)
	if err != nil {
		return fmt.Errorf("insert label: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateLabel(ctx context.Context, label Label) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		UPDATE labels SET name=$2, color=$3 WHERE id=$1
	`, label.ID, label.Name, label.Color)
	if err != nil {
		return fmt.Errorf("update label: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteLabel(ctx context.Context, labelID string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `DELETE FROM labels WHERE id=$1`, labelID)
	if err != nil {
		return fmt.Errorf("delete label: %w", err)
	}
	return nil
}

func (s *PostgresStore) LabelsByCard(ctx context.Context, cardID string) ([]Label, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.board_id, l.name, l.color
		FROM card_labels cl
		JOIN labels l ON l.id = cl.label_id
		WHERE cl.card_id=$1
		ORDER BY l.name
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("list card labels: %w", err)
	}
	defer rows.Close()

	items := make([]Label, 0)
	for rows.Next() {
		var item Label
		if err := rows.Scan(&item.ID, &item.BoardID, &item.Name, &item.Color); err != nil {
			return nil, fmt.Errorf("scan card label: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate card labels: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AttachLabel(ctx context.Context, cardID, labelID string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO card_labels (card_id, label_id) VALUES ($1, $2)
	`, cardID, labelID)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("attach label: %w", err)
	}
	return nil
}

func (s *PostgresStore) DetachLabel(ctx context.Context, cardID, labelID string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM card_labels WHERE card_id=$1 AND label_id=$2
	`, cardID, labelID)
	if err != nil {
		return false, fmt.Errorf("detach label: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("detach label: %w", err)
	}
	return affected > 0, nil
}

// ── Comments ──

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var item Comment
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.card_id, c.user_id, c.content, c.created_at, u.name
		FROM comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.id=$1
	`, commentID).Scan(&item.ID, &item.CardID, &item.UserID, &item.Content, &item.CreatedAt, &item.UserName)
	if err != nil {
		return Comment{}, err
	}
	return item, nil
}

func (s *PostgresStore) CommentsByCard(ctx context.Context, cardID string) ([]Comment, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.card_id, c.user_id, c.content, c.created_at, u.name
		FROM comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.card_id=$1
		ORDER BY c.created_at
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.CardID, &item.UserID, &item.Content, &item.CreatedAt, &item.UserName); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, card_id, user_id, content) VALUES ($1, $2, $3, $4)
	`, comment.ID, comment.CardID, comment.UserID, comment.Content)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

// ── Assignees ──

func (s *PostgresStore) AssigneesByCard(ctx context.Context, cardID string) ([]Assignee, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.card_id, a.user_id, u.name, u.email
		FROM card_assignees a
		JOIN users u ON u.id = a.user_id
		WHERE a.card_id=$1
		ORDER BY u.name
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("list assignees: %w", err)
	}
	defer rows.Close()

	items := make([]Assignee, 0)
	for rows.Next() {
		var item Assignee
		if err := rows.Scan(&item.CardID, &item.UserID, &item.UserName, &item.UserEmail); err != nil {
			return nil, fmt.Errorf("scan assignee: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignees: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AssignUser(ctx context.Context, cardID, userID string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO card_assignees (card_id, user_id) VALUES ($1, $2)
	`, cardID, userID)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("assign user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UnassignUser(ctx context.Context, cardID, userID string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM card_assignees WHERE card_id=$1 AND user_id=$2
	`, cardID, userID)
	if err != nil {
		return false, fmt.Errorf("unassign user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unassign user: %w", err)
	}
	return affected > 0, nil
}

// ── Ownership chain resolution ──

func (s *PostgresStore) BoardIDForList(ctx context.Context, listID string) (string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var boardID string
	err := s.db.QueryRowContext(ctx, `SELECT board_id FROM lists WHERE id=$1`, listID).Scan(&boardID)
	if err != nil {
		return "", err
	}
	return boardID, nil
}

func (s *PostgresStore) BoardIDForCard(ctx context.Context, cardID string) (string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var boardID string
	err := s.db.QueryRowContext(ctx, `
		SELECT l.board_id FROM cards c JOIN lists l ON l.id = c.list_id WHERE c.id=$1
	`, cardID).Scan(&boardID)
	if err != nil {
		return "", err
	}
	return boardID, nil
}

func (s *PostgresStore) BoardIDForLabel(ctx context.Context, labelID string) (string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var boardID string
	err := s.db.QueryRowContext(ctx, `SELECT board_id FROM labels WHERE id=$1`, labelID).Scan(&boardID)
	if err != nil {
		return "", err
	}
	return boardID, nil
}
