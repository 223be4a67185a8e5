package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"taskboard/api/internal/rbac"
)

// effectiveRole resolves what a user may do on a board. The owner is
// never stored as a member row; ownership is checked against the board
// record and outranks any membership.
func (s *Service) effectiveRole(ctx context.Context, userID, boardID string) (rbac.Role, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rbac.RoleNone, errNotFound("board")
		}
		return rbac.RoleNone, fmt.Errorf("load board: %w", err)
	}
	if board.OwnerID == userID {
		return rbac.RoleOwner, nil
	}
	member, err := s.store.GetMember(ctx, boardID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rbac.RoleNone, nil
		}
		return rbac.RoleNone, fmt.Errorf("load membership: %w", err)
	}
	return rbac.Role(member.Role), nil
}

// requireBoard authorizes action on the board itself.
func (s *Service) requireBoard(ctx context.Context, session Session, boardID string, action rbac.Action) (rbac.Role, error) {
	role, err := s.effectiveRole(ctx, session.UserID, boardID)
	if err != nil {
		return rbac.RoleNone, err
	}
	if !rbac.Can(role, action) {
		return rbac.RoleNone, errForbidden()
	}
	return role, nil
}

// requireList authorizes action on the board that owns the list and
// returns that board's ID.
func (s *Service) requireList(ctx context.Context, session Session, listID string, action rbac.Action) (string, rbac.Role, error) {
	boardID, err := s.store.BoardIDForList(ctx, listID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", rbac.RoleNone, errNotFound("list")
		}
		return "", rbac.RoleNone, fmt.Errorf("resolve list board: %w", err)
	}
	role, err := s.requireBoard(ctx, session, boardID, action)
	if err != nil {
		return "", rbac.RoleNone, err
	}
	return boardID, role, nil
}

// requireCard authorizes action on the board that owns the card.
func (s *Service) requireCard(ctx context.Context, session Session, cardID string, action rbac.Action) (string, rbac.Role, error) {
	boardID, err := s.store.BoardIDForCard(ctx, cardID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", rbac.RoleNone, errNotFound("card")
		}
		return "", rbac.RoleNone, fmt.Errorf("resolve card board: %w", err)
	}
	role, err := s.requireBoard(ctx, session, boardID, action)
	if err != nil {
		return "", rbac.RoleNone, err
	}
	return boardID, role, nil
}

// requireLabel authorizes action on the board that owns the label.
func (s *Service) requireLabel(ctx context.Context, session Session, labelID string, action rbac.Action) (string, rbac.Role, error) {
	boardID, err := s.store.BoardIDForLabel(ctx, labelID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", rbac.RoleNone, errNotFound("label")
		}
		return "", rbac.RoleNone, fmt.Errorf("resolve label board: %w", err)
	}
	role, err := s.requireBoard(ctx, session, boardID, action)
	if err != nil {
		return "", rbac.RoleNone, err
	}
	return boardID, role, nil
}
