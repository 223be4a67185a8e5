package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"taskboard/api/internal/ordering"
)

// Positional mutations. Every operation that rewrites a sibling set's
// positions runs in one transaction and takes a FOR UPDATE lock on the
// parent row(s) first, so concurrent writers against the same sibling
// set serialize instead of interleaving partial shifts.

// cardSet adapts the cards table to ordering.Collection within tx.
type cardSet struct {
	tx *sql.Tx
}

func (c cardSet) Count(ctx context.Context, listID string) (int, error) {
	var n int
	err := c.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards WHERE list_id=$1`, listID).Scan(&n)
	return n, err
}

func (c cardSet) Locate(ctx context.Context, cardID string) (string, int, error) {
	var listID string
	var pos int
	err := c.tx.QueryRowContext(ctx, `SELECT list_id, position FROM cards WHERE id=$1`, cardID).Scan(&listID, &pos)
	return listID, pos, err
}

func (c cardSet) ShiftRange(ctx context.Context, listID string, lo, hi, delta int) error {
	_, err := c.tx.ExecContext(ctx, `
		UPDATE cards SET position = position + $4, updated_at=NOW()
		WHERE list_id=$1 AND position >= $2 AND position <= $3
	`, listID, lo, hi, delta)
	return err
}

func (c cardSet) Place(ctx context.Context, cardID, listID string, pos int) error {
	_, err := c.tx.ExecContext(ctx, `
		UPDATE cards SET list_id=$2, position=$3, updated_at=NOW() WHERE id=$1
	`, cardID, listID, pos)
	return err
}

// listSet adapts the lists table to ordering.Collection within tx.
type listSet struct {
	tx *sql.Tx
}

func (l listSet) Count(ctx context.Context, boardID string) (int, error) {
	var n int
	err := l.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM lists WHERE board_id=$1`, boardID).Scan(&n)
	return n, err
}

func (l listSet) Locate(ctx context.Context, listID string) (string, int, error) {
	var boardID string
	var pos int
	err := l.tx.QueryRowContext(ctx, `SELECT board_id, position FROM lists WHERE id=$1`, listID).Scan(&boardID, &pos)
	return boardID, pos, err
}

func (l listSet) ShiftRange(ctx context.Context, boardID string, lo, hi, delta int) error {
	_, err := l.tx.ExecContext(ctx, `
		UPDATE lists SET position = position + $4, updated_at=NOW()
		WHERE board_id=$1 AND position >= $2 AND position <= $3
	`, boardID, lo, hi, delta)
	return err
}

func (l listSet) Place(ctx context.Context, listID, boardID string, pos int) error {
	_, err := l.tx.ExecContext(ctx, `
		UPDATE lists SET board_id=$2, position=$3, updated_at=NOW() WHERE id=$1
	`, listID, boardID, pos)
	return err
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	// BeginTx ties the transaction to ctx, so the whole mutation rolls
	// back when the query timeout elapses.
	ctx, cancel := s.bound(ctx)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func lockBoard(ctx context.Context, tx *sql.Tx, boardID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM boards WHERE id=$1 FOR UPDATE`, boardID).Scan(&id)
	if err != nil {
		return err
	}
	return nil
}

func lockList(ctx context.Context, tx *sql.Tx, listID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM lists WHERE id=$1 FOR UPDATE`, listID).Scan(&id)
	if err != nil {
		return err
	}
	return nil
}

// lockLists locks list rows in a fixed order so two concurrent
// cross-list moves cannot deadlock on each other.
func lockLists(ctx context.Context, tx *sql.Tx, listIDs ...string) error {
	ids := append([]string(nil), listIDs...)
	sort.Strings(ids)
	for _, id := range ids {
		if err := lockList(ctx, tx, id); err != nil {
			return err
		}
	}
	return nil
}

// CreateList appends a list at the end of its board's ordering.
func (s *PostgresStore) CreateList(ctx context.Context, list List) (List, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockBoard(ctx, tx, list.BoardID); err != nil {
			return fmt.Errorf("lock board: %w", err)
		}
		pos, err := ordering.Append(ctx, listSet{tx}, list.BoardID)
		if err != nil {
			return err
		}
		list.Position = pos
		_, err = tx.ExecContext(ctx, `
			INSERT INTO lists (id, board_id, title, position) VALUES ($1, $2, $3, $4)
		`, list.ID, list.BoardID, list.Title, list.Position)
		if err != nil {
			return fmt.Errorf("insert list: %w", err)
		}
		return nil
	})
	if err != nil {
		return List{}, err
	}
	return list, nil
}

// DeleteList removes the list (cards cascade) and compacts the board's
// remaining list positions. The position is re-read under the board
// lock; the value seen before locking may be stale.
func (s *PostgresStore) DeleteList(ctx context.Context, listID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		boardID, _, err := listSet{tx}.Locate(ctx, listID)
		if err != nil {
			return err
		}
		if err := lockBoard(ctx, tx, boardID); err != nil {
			return fmt.Errorf("lock board: %w", err)
		}
		_, pos, err := listSet{tx}.Locate(ctx, listID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM lists WHERE id=$1`, listID); err != nil {
			return fmt.Errorf("delete list: %w", err)
		}
		return ordering.CloseGap(ctx, listSet{tx}, boardID, pos)
	})
}

// MoveList reorders a list within its board.
func (s *PostgresStore) MoveList(ctx context.Context, listID string, newPos int) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		boardID, _, err := listSet{tx}.Locate(ctx, listID)
		if err != nil {
			return err
		}
		if err := lockBoard(ctx, tx, boardID); err != nil {
			return fmt.Errorf("lock board: %w", err)
		}
		return ordering.Reorder(ctx, listSet{tx}, listID, newPos)
	})
}

// CreateCard appends a card at the end of its list's ordering.
func (s *PostgresStore) CreateCard(ctx context.Context, card Card) (Card, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockList(ctx, tx, card.ListID); err != nil {
			return fmt.Errorf("lock list: %w", err)
		}
		pos, err := ordering.Append(ctx, cardSet{tx}, card.ListID)
		if err != nil {
			return err
		}
		card.Position = pos
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cards (id, list_id, title, description, due_date, position)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, card.ID, card.ListID, card.Title, card.Description, card.DueDate, card.Position)
		if err != nil {
			return fmt.Errorf("insert card: %w", err)
		}
		return nil
	})
	if err != nil {
		return Card{}, err
	}
	return card, nil
}

// DeleteCard removes the card (comments and join rows cascade) and
// compacts the list's remaining card positions.
func (s *PostgresStore) DeleteCard(ctx context.Context, cardID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		listID, _, err := cardSet{tx}.Locate(ctx, cardID)
		if err != nil {
			return err
		}
		// The card may be moved between the first read and the lock,
		// so lock whichever list it lands in before trusting position.
		for {
			if err := lockList(ctx, tx, listID); err != nil {
				return fmt.Errorf("lock list: %w", err)
			}
			current, _, err := cardSet{tx}.Locate(ctx, cardID)
			if err != nil {
				return err
			}
			if current == listID {
				break
			}
			listID = current
		}
		_, pos, err := cardSet{tx}.Locate(ctx, cardID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE id=$1`, cardID); err != nil {
			return fmt.Errorf("delete card: %w", err)
		}
		return ordering.CloseGap(ctx, cardSet{tx}, listID, pos)
	})
}

// MoveCard reorders a card within its list or transfers it to another
// list on the same board. Same-board validation happens in the service
// before this is called.
func (s *PostgresStore) MoveCard(ctx context.Context, cardID, newListID string, newPos int) (Card, error) {
	var moved Card
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		oldListID, _, err := cardSet{tx}.Locate(ctx, cardID)
		if err != nil {
			return err
		}
		// The source list can change between the read and the lock.
		// Locks accumulate until commit, so re-locking after a change
		// of source is safe; the set only grows.
		for {
			if err := lockLists(ctx, tx, oldListID, newListID); err != nil {
				return fmt.Errorf("lock lists: %w", err)
			}
			current, _, err := cardSet{tx}.Locate(ctx, cardID)
			if err != nil {
				return err
			}
			if current == oldListID {
				break
			}
			oldListID = current
		}
		if err := ordering.Move(ctx, cardSet{tx}, cardID, newListID, newPos); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `
			SELECT id, list_id, title, description, due_date, position, created_at, updated_at
			FROM cards WHERE id=$1
		`, cardID).Scan(&moved.ID, &moved.ListID, &moved.Title, &moved.Description, &moved.DueDate, &moved.Position, &moved.CreatedAt, &moved.UpdatedAt)
	})
	if err != nil {
		return Card{}, err
	}
	return moved, nil
}
