package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"taskboard/api/internal/cache"
	"taskboard/api/internal/ordering"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

func (s *Service) ListsForBoard(ctx context.Context, session Session, boardID string) ([]map[string]any, error) {
	if _, err := s.requireBoard(ctx, session, boardID, rbac.ActionView); err != nil {
		return nil, err
	}
	key := cache.ListsKey(session.UserID, boardID)
	var payload []map[string]any
	if s.cached(ctx, key, &payload) {
		return payload, nil
	}
	lists, err := s.store.ListsByBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	payload = make([]map[string]any, 0, len(lists))
	for _, item := range lists {
		payload = append(payload, listJSON(item))
	}
	s.cacheSet(ctx, key, payload)
	return payload, nil
}

// CreateList appends a new list at the end of the board.
func (s *Service) CreateList(ctx context.Context, session Session, boardID, title string) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errValidation("title is required")
	}
	if _, err := s.requireBoard(ctx, session, boardID, rbac.ActionEdit); err != nil {
		return nil, err
	}
	created, err := s.store.CreateList(ctx, store.List{
		ID:      util.NewID(),
		BoardID: boardID,
		Title:   title,
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.AllListsPattern(boardID))
	s.publish(ctx, boardID, realtime.EventListCreated, listJSON(created), boardID)
	return listJSON(created), nil
}

func (s *Service) RenameList(ctx context.Context, session Session, listID, title string) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errValidation("title is required")
	}
	boardID, _, err := s.requireList(ctx, session, listID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateListTitle(ctx, listID, title); err != nil {
		return nil, err
	}
	item, err := s.store.GetList(ctx, listID)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.AllListsPattern(boardID))
	s.publish(ctx, boardID, realtime.EventListUpdated, listJSON(item))
	return listJSON(item), nil
}

// DeleteList removes the list and all its cards, compacting the
// positions of the lists that remain.
func (s *Service) DeleteList(ctx context.Context, session Session, listID string) error {
	boardID, _, err := s.requireList(ctx, session, listID, rbac.ActionEdit)
	if err != nil {
		return err
	}
	if err := s.store.DeleteList(ctx, listID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("list")
		}
		return err
	}
	s.invalidate(ctx, cache.AllListsPattern(boardID), cache.AllCardsPattern(listID))
	s.publish(ctx, boardID, realtime.EventListDeleted, map[string]any{"listId": listID, "boardId": boardID}, boardID)
	return nil
}

// MoveList reorders a list within its board. Moving to the position the
// list already holds succeeds without changing anything.
func (s *Service) MoveList(ctx context.Context, session Session, listID string, newPos int) (map[string]any, error) {
	boardID, _, err := s.requireList(ctx, session, listID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	if err := s.store.MoveList(ctx, listID, newPos); err != nil {
		if errors.Is(err, ordering.ErrPositionOutOfRange) {
			return nil, errValidation("position out of range")
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("list")
		}
		return nil, err
	}
	item, err := s.store.GetList(ctx, listID)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.AllListsPattern(boardID))
	s.publish(ctx, boardID, realtime.EventListMoved, listJSON(item), boardID)
	return listJSON(item), nil
}
