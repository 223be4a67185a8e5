package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskboard/api/internal/cache"
	"taskboard/api/internal/ordering"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

// CardInput carries the mutable card fields. DueDate accepts RFC 3339
// or an empty string to clear the date.
type CardInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	DueDate     string `json:"dueDate"`
}

func parseDueDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errValidation("dueDate must be RFC 3339")
	}
	return &parsed, nil
}

func (s *Service) CardsForList(ctx context.Context, session Session, listID string) ([]map[string]any, error) {
	if _, _, err := s.requireList(ctx, session, listID, rbac.ActionView); err != nil {
		return nil, err
	}
	key := cache.CardsKey(session.UserID, listID)
	var payload []map[string]any
	if s.cached(ctx, key, &payload) {
		return payload, nil
	}
	cards, err := s.store.CardsByList(ctx, listID)
	if err != nil {
		return nil, err
	}
	payload = make([]map[string]any, 0, len(cards))
	for _, item := range cards {
		payload = append(payload, cardJSON(item))
	}
	s.cacheSet(ctx, key, payload)
	return payload, nil
}

// GetCard returns the card with its labels, assignees and comments.
func (s *Service) GetCard(ctx context.Context, session Session, cardID string) (map[string]any, error) {
	if _, _, err := s.requireCard(ctx, session, cardID, rbac.ActionView); err != nil {
		return nil, err
	}
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("card")
		}
		return nil, err
	}

	labels, err := s.store.LabelsByCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	labelPayloads := make([]map[string]any, 0, len(labels))
	for _, label := range labels {
		labelPayloads = append(labelPayloads, labelJSON(label))
	}

	assignees, err := s.store.AssigneesByCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	assigneePayloads := make([]map[string]any, 0, len(assignees))
	for _, assignee := range assignees {
		assigneePayloads = append(assigneePayloads, assigneeJSON(assignee))
	}

	comments, err := s.store.CommentsByCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	commentPayloads := make([]map[string]any, 0, len(comments))
	for _, comment := range comments {
		commentPayloads = append(commentPayloads, commentJSON(comment))
	}

	payload := cardJSON(card)
	payload["labels"] = labelPayloads
	payload["assignees"] = assigneePayloads
	payload["comments"] = commentPayloads
	return payload, nil
}

// CreateCard appends a new card at the end of the list.
func (s *Service) CreateCard(ctx context.Context, session Session, listID string, input CardInput) (map[string]any, error) {
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return nil, errValidation("title is required")
	}
	dueDate, err := parseDueDate(input.DueDate)
	if err != nil {
		return nil, err
	}
	boardID, _, err := s.requireList(ctx, session, listID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	created, err := s.store.CreateCard(ctx, store.Card{
		ID:          util.NewID(),
		ListID:      listID,
		Title:       input.Title,
		Description: input.Description,
		DueDate:     dueDate,
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.AllCardsPattern(listID))
	s.publish(ctx, boardID, realtime.EventCardCreated, cardJSON(created), listID)
	return cardJSON(created), nil
}

func (s *Service) UpdateCard(ctx context.Context, session Session, cardID string, input CardInput) (map[string]any, error) {
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return nil, errValidation("title is required")
	}
	dueDate, err := parseDueDate(input.DueDate)
	if err != nil {
		return nil, err
	}
	boardID, _, err := s.requireCard(ctx, session, cardID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("card")
		}
		return nil, err
	}
	card.Title = input.Title
	card.Description = input.Description
	card.DueDate = dueDate
	if err := s.store.UpdateCardContent(ctx, card); err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.AllCardsPattern(card.ListID))
	s.publish(ctx, boardID, realtime.EventCardUpdated, cardJSON(card))
	return cardJSON(card), nil
}

// DeleteCard removes the card and compacts the positions of the cards
// left in its list.
func (s *Service) DeleteCard(ctx context.Context, session Session, cardID string) error {
	boardID, _, err := s.requireCard(ctx, session, cardID, rbac.ActionEdit)
	if err != nil {
		return err
	}
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("card")
		}
		return err
	}
	if err := s.store.DeleteCard(ctx, cardID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("card")
		}
		return err
	}
	s.invalidate(ctx, cache.AllCardsPattern(card.ListID))
	s.publish(ctx, boardID, realtime.EventCardDeleted, map[string]any{"cardId": cardID, "listId": card.ListID}, card.ListID)
	return nil
}

// MoveCard reorders a card within its list or transfers it to another
// list on the same board. Cross-board moves are rejected before any
// position changes.
func (s *Service) MoveCard(ctx context.Context, session Session, cardID, targetListID string, newPos int) (map[string]any, error) {
	boardID, _, err := s.requireCard(ctx, session, cardID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("card")
		}
		return nil, err
	}
	if targetListID == "" {
		targetListID = card.ListID
	}
	targetBoardID, err := s.store.BoardIDForList(ctx, targetListID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("list")
		}
		return nil, fmt.Errorf("resolve target list: %w", err)
	}
	if targetBoardID != boardID {
		return nil, errBadRequest("cannot move a card to another board")
	}

	moved, err := s.store.MoveCard(ctx, cardID, targetListID, newPos)
	if err != nil {
		if errors.Is(err, ordering.ErrPositionOutOfRange) {
			return nil, errValidation("position out of range")
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("card")
		}
		return nil, err
	}

	s.invalidate(ctx, cache.AllCardsPattern(card.ListID))
	if targetListID != card.ListID {
		s.invalidate(ctx, cache.AllCardsPattern(targetListID))
	}
	s.publish(ctx, boardID, realtime.EventCardMoved, cardJSON(moved), card.ListID, targetListID)
	return cardJSON(moved), nil
}

// ── Assignees ──

// AssignUser puts a board member on a card. Users outside the board
// cannot be assigned.
func (s *Service) AssignUser(ctx context.Context, session Session, cardID, userID string) error {
	boardID, _, err := s.requireCard(ctx, session, cardID, rbac.ActionEdit)
	if err != nil {
		return err
	}
	assigneeRole, err := s.effectiveRole(ctx, userID, boardID)
	if err != nil {
		return err
	}
	if assigneeRole == rbac.RoleNone {
		return errBadRequest("assignee must be a member of the board")
	}
	if err := s.store.AssignUser(ctx, cardID, userID); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return errConflict("ALREADY_ASSIGNED", "User is already assigned to this card")
		}
		return err
	}
	s.publish(ctx, boardID, realtime.EventCardAssigneeAdded, map[string]any{"cardId": cardID, "userId": userID})
	return nil
}

func (s *Service) UnassignUser(ctx context.Context, session Session, cardID, userID string) error {
	boardID, _, err := s.requireCard(ctx, session, cardID, rbac.ActionEdit)
	if err != nil {
		return err
	}
	removed, err := s.store.UnassignUser(ctx, cardID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return errNotFound("assignee")
	}
	s.publish(ctx, boardID, realtime.EventCardAssigneeRemove, map[string]any{"cardId": cardID, "userId": userID})
	return nil
}
