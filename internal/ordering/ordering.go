// Package ordering maintains dense zero-based positions for ordered
// collections (cards within a list, lists within a board). Every
// operation leaves the sibling set a gapless permutation {0..n-1}.
package ordering

import (
	"context"
	"errors"
	"fmt"
)

var ErrPositionOutOfRange = errors.New("position out of range")

// Collection is the accessor the engine works through. Implementations
// run inside the caller's transaction so that each operation reads and
// writes one consistent snapshot of the sibling set.
type Collection interface {
	// Count returns the number of entities under parentID.
	Count(ctx context.Context, parentID string) (int, error)
	// Locate returns the current parent and position of an entity.
	Locate(ctx context.Context, id string) (parentID string, pos int, err error)
	// ShiftRange adds delta to the position of every sibling of
	// parentID whose position lies in [lo, hi] inclusive.
	ShiftRange(ctx context.Context, parentID string, lo, hi, delta int) error
	// Place sets an entity's parent and position.
	Place(ctx context.Context, id, parentID string, pos int) error
}

// Append returns the end position for a new entity under parentID: the
// current sibling count. The caller writes the entity with the returned
// position; no shifting is needed.
func Append(ctx context.Context, c Collection, parentID string) (int, error) {
	n, err := c.Count(ctx, parentID)
	if err != nil {
		return 0, fmt.Errorf("count siblings: %w", err)
	}
	return n, nil
}

// CloseGap shifts every sibling positioned after removed down by one.
// Called when an entity leaves its parent, before or after the row
// itself is deleted.
func CloseGap(ctx context.Context, c Collection, parentID string, removed int) error {
	n, err := c.Count(ctx, parentID)
	if err != nil {
		return fmt.Errorf("count siblings: %w", err)
	}
	if err := c.ShiftRange(ctx, parentID, removed+1, n, -1); err != nil {
		return fmt.Errorf("close gap: %w", err)
	}
	return nil
}

// Reorder moves an entity to newPos within its current parent. Only the
// contiguous run of siblings between the old and new position is
// rewritten. Reordering to the current position is a successful no-op.
func Reorder(ctx context.Context, c Collection, id string, newPos int) error {
	parentID, oldPos, err := c.Locate(ctx, id)
	if err != nil {
		return fmt.Errorf("locate entity: %w", err)
	}
	n, err := c.Count(ctx, parentID)
	if err != nil {
		return fmt.Errorf("count siblings: %w", err)
	}
	if newPos < 0 || newPos >= n {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrPositionOutOfRange, newPos, n)
	}
	if newPos == oldPos {
		return nil
	}

	if newPos > oldPos {
		// Moving down: siblings in (old, new] slide up one slot.
		err = c.ShiftRange(ctx, parentID, oldPos+1, newPos, -1)
	} else {
		// Moving up: siblings in [new, old) slide down one slot.
		err = c.ShiftRange(ctx, parentID, newPos, oldPos-1, +1)
	}
	if err != nil {
		return fmt.Errorf("shift siblings: %w", err)
	}
	if err := c.Place(ctx, id, parentID, newPos); err != nil {
		return fmt.Errorf("place entity: %w", err)
	}
	return nil
}

// Move transfers an entity to newParentID at newPos, closing the gap it
// leaves behind and opening a slot in the destination. newPos may equal
// the destination's current size (append). When the destination is the
// entity's current parent this degenerates to Reorder.
func Move(ctx context.Context, c Collection, id, newParentID string, newPos int) error {
	oldParentID, oldPos, err := c.Locate(ctx, id)
	if err != nil {
		return fmt.Errorf("locate entity: %w", err)
	}
	if oldParentID == newParentID {
		return Reorder(ctx, c, id, newPos)
	}

	n, err := c.Count(ctx, newParentID)
	if err != nil {
		return fmt.Errorf("count destination siblings: %w", err)
	}
	if newPos < 0 || newPos > n {
		return fmt.Errorf("%w: %d not in [0,%d]", ErrPositionOutOfRange, newPos, n)
	}

	if err := CloseGap(ctx, c, oldParentID, oldPos); err != nil {
		return err
	}
	if err := c.ShiftRange(ctx, newParentID, newPos, n-1, +1); err != nil {
		return fmt.Errorf("open slot: %w", err)
	}
	if err := c.Place(ctx, id, newParentID, newPos); err != nil {
		return fmt.Errorf("place entity: %w", err)
	}
	return nil
}
