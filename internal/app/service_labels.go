package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"taskboard/api/internal/cache"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

func validateLabel(name, color string) (string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", errValidation("name is required")
	}
	if color == "" {
		color = "#61bd4f"
	}
	if !hexColor.MatchString(color) {
		return "", "", errValidation("color must be a hex value like #61bd4f")
	}
	return name, color, nil
}

func (s *Service) LabelsForBoard(ctx context.Context, session Session, boardID string) ([]map[string]any, error) {
	if _, err := s.requireBoard(ctx, session, boardID, rbac.ActionView); err != nil {
		return nil, err
	}
	key := cache.LabelsKey(session.UserID, boardID)
	var payload []map[string]any
	if s.cached(ctx, key, &payload) {
		return payload, nil
	}
	labels, err := s.store.LabelsByBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	payload = make([]map[string]any, 0, len(labels))
	for _, label := range labels {
		payload = append(payload, labelJSON(label))
	}
	s.cacheSet(ctx, key, payload)
	return payload, nil
}

func (s *Service) CreateLabel(ctx context.Context, session Session, boardID, name, color string) (map[string]any, error) {
	name, color, err := validateLabel(name, color)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireBoard(ctx, session, boardID, rbac.ActionEdit); err != nil {
		return nil, err
	}
	label := store.Label{
		ID:      util.NewID(),
		BoardID: boardID,
		Name:    name,
		Color:   color,
	}
	if err := s.store.InsertLabel(ctx, label); err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.AllLabelsPattern(boardID))
	s.publish(ctx, boardID, realtime.EventBoardUpdated, labelJSON(label))
	return labelJSON(label), nil
}

func (s *Service) UpdateLabel(ctx context.Context, session Session, labelID, name, color string) (map[string]any, error) {
	name, color, err := validateLabel(name, color)
	if err != nil {
		return nil, err
	}
	boardID, _, err := s.requireLabel(ctx, session, labelID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	label, err := s.store.GetLabel(ctx, labelID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("label")
		}
		return nil, err
	}
	label.Name = name
	label.Color = color
	if err := s.store.UpdateLabel(ctx, label); err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.AllLabelsPattern(boardID))
	s.publish(ctx, boardID, realtime.EventBoardUpdated, labelJSON(label))
	return labelJSON(label), nil
}

func (s *Service) DeleteLabel(ctx context.Context, session Session, labelID string) error {
	boardID, _, err := s.requireLabel(ctx, session, labelID, rbac.ActionEdit)
	if err != nil {
		return err
	}
	if err := s.store.DeleteLabel(ctx, labelID); err != nil {
		return err
	}
	s.invalidate(ctx, cache.AllLabelsPattern(boardID))
	s.publish(ctx, boardID, realtime.EventBoardUpdated, map[string]any{"labelId": labelID, "deleted": true})
	return nil
}

// AttachLabel links a label to a card. Both must belong to the same
// board.
func (s *Service) AttachLabel(ctx context.Context, session Session, cardID, labelID string) error {
	boardID, _, err := s.requireCard(ctx, session, cardID, rbac.ActionEdit)
	if err != nil {
		return err
	}
	labelBoardID, err := s.store.BoardIDForLabel(ctx, labelID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("label")
		}
		return fmt.Errorf("resolve label board: %w", err)
	}
	if labelBoardID != boardID {
		return errBadRequest("label belongs to another board")
	}
	if err := s.store.AttachLabel(ctx, cardID, labelID); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return errConflict("ALREADY_ATTACHED", "Label is already attached to this card")
		}
		return err
	}
	s.publish(ctx, boardID, realtime.EventCardLabelAdded, map[string]any{"cardId": cardID, "labelId": labelID})
	return nil
}

func (s *Service) DetachLabel(ctx context.Context, session Session, cardID, labelID string) error {
	boardID, _, err := s.requireCard(ctx, session, cardID, rbac.ActionEdit)
	if err != nil {
		return err
	}
	removed, err := s.store.DetachLabel(ctx, cardID, labelID)
	if err != nil {
		return err
	}
	if !removed {
		return errNotFound("label attachment")
	}
	s.publish(ctx, boardID, realtime.EventCardLabelRemoved, map[string]any{"cardId": cardID, "labelId": labelID})
	return nil
}
