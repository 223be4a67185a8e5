package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"taskboard/api/internal/cache"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

func (s *Service) CreateBoard(ctx context.Context, session Session, name string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errValidation("name is required")
	}
	board := store.Board{
		ID:      util.NewID(),
		Name:    name,
		OwnerID: session.UserID,
	}
	if err := s.store.InsertBoard(ctx, board); err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.BoardsKey(session.UserID))
	return boardJSON(board), nil
}

func (s *Service) ListBoards(ctx context.Context, session Session) ([]map[string]any, error) {
	key := cache.BoardsKey(session.UserID)
	var payload []map[string]any
	if s.cached(ctx, key, &payload) {
		return payload, nil
	}
	boards, err := s.store.ListBoardsForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	payload = make([]map[string]any, 0, len(boards))
	for _, board := range boards {
		payload = append(payload, boardJSON(board))
	}
	s.cacheSet(ctx, key, payload)
	return payload, nil
}

// GetBoard returns the board with its full nested state: ordered lists,
// each with its ordered cards, plus labels and members.
func (s *Service) GetBoard(ctx context.Context, session Session, boardID string) (map[string]any, error) {
	role, err := s.requireBoard(ctx, session, boardID, rbac.ActionView)
	if err != nil {
		return nil, err
	}
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("board")
		}
		return nil, err
	}

	lists, err := s.store.ListsByBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	listPayloads := make([]map[string]any, 0, len(lists))
	for _, item := range lists {
		cards, err := s.store.CardsByList(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		cardPayloads := make([]map[string]any, 0, len(cards))
		for _, card := range cards {
			cardPayloads = append(cardPayloads, cardJSON(card))
		}
		entry := listJSON(item)
		entry["cards"] = cardPayloads
		listPayloads = append(listPayloads, entry)
	}

	labels, err := s.store.LabelsByBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	labelPayloads := make([]map[string]any, 0, len(labels))
	for _, label := range labels {
		labelPayloads = append(labelPayloads, labelJSON(label))
	}

	members, err := s.memberPayloads(ctx, boardID)
	if err != nil {
		return nil, err
	}

	payload := boardJSON(board)
	payload["lists"] = listPayloads
	payload["labels"] = labelPayloads
	payload["members"] = members
	payload["role"] = string(role)
	return payload, nil
}

func (s *Service) RenameBoard(ctx context.Context, session Session, boardID, name string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errValidation("name is required")
	}
	if _, err := s.requireBoard(ctx, session, boardID, rbac.ActionOwn); err != nil {
		return nil, err
	}
	if err := s.store.UpdateBoardName(ctx, boardID, name); err != nil {
		return nil, err
	}
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.AllBoardsPattern())
	s.publish(ctx, boardID, realtime.EventBoardUpdated, boardJSON(board))
	return boardJSON(board), nil
}

func (s *Service) DeleteBoard(ctx context.Context, session Session, boardID string) error {
	if _, err := s.requireBoard(ctx, session, boardID, rbac.ActionOwn); err != nil {
		return err
	}
	if err := s.store.DeleteBoard(ctx, boardID); err != nil {
		return err
	}
	s.invalidate(ctx,
		cache.AllBoardsPattern(),
		cache.AllListsPattern(boardID),
		cache.AllLabelsPattern(boardID),
		cache.AllMembersPattern(boardID),
	)
	return nil
}

// ── Members ──

func (s *Service) memberPayloads(ctx context.Context, boardID string) ([]map[string]any, error) {
	members, err := s.store.ListMembers(ctx, boardID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(members))
	for _, member := range members {
		payload = append(payload, memberJSON(member))
	}
	return payload, nil
}

func (s *Service) ListBoardMembers(ctx context.Context, session Session, boardID string) ([]map[string]any, error) {
	if _, err := s.requireBoard(ctx, session, boardID, rbac.ActionView); err != nil {
		return nil, err
	}
	key := cache.MembersKey(session.UserID, boardID)
	var payload []map[string]any
	if s.cached(ctx, key, &payload) {
		return payload, nil
	}
	payload, err := s.memberPayloads(ctx, boardID)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, payload)
	return payload, nil
}

// InviteMember adds an existing account to a board by email. The role
// defaults to VIEWER. The owner cannot be invited as a member.
func (s *Service) InviteMember(ctx context.Context, session Session, boardID, email, role string) (map[string]any, error) {
	if _, err := s.requireBoard(ctx, session, boardID, rbac.ActionAdminister); err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errValidation("email is required")
	}
	if role == "" {
		role = string(rbac.RoleViewer)
	}
	normalized, ok := rbac.Normalize(role)
	if !ok {
		return nil, errValidation("role must be ADMIN, EDITOR or VIEWER")
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("user")
		}
		return nil, err
	}

	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("load board: %w", err)
	}
	if board.OwnerID == user.ID {
		return nil, errBadRequest("board owner is already a member")
	}

	member := store.Member{
		ID:      util.NewID(),
		BoardID: boardID,
		UserID:  user.ID,
		Role:    string(normalized),
	}
	if err := s.store.InsertMember(ctx, member); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, errConflict("ALREADY_MEMBER", "User is already a member of this board")
		}
		return nil, err
	}
	member.UserName = user.Name
	member.UserEmail = user.Email

	s.invalidate(ctx, cache.AllMembersPattern(boardID), cache.BoardsKey(user.ID))
	s.publish(ctx, boardID, realtime.EventMemberAdded, memberJSON(member))
	return memberJSON(member), nil
}

// UpdateMemberRole changes an existing member's role. The owner has no
// member row and owner rank cannot be granted this way.
func (s *Service) UpdateMemberRole(ctx context.Context, session Session, boardID, userID, role string) (map[string]any, error) {
	if _, err := s.requireBoard(ctx, session, boardID, rbac.ActionAdminister); err != nil {
		return nil, err
	}
	normalized, ok := rbac.Normalize(role)
	if !ok {
		return nil, errValidation("role must be ADMIN, EDITOR or VIEWER")
	}

	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("load board: %w", err)
	}
	if board.OwnerID == userID {
		return nil, errBadRequest("the board owner's role cannot be changed")
	}

	updated, err := s.store.UpdateMemberRole(ctx, boardID, userID, string(normalized))
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, errNotFound("member")
	}

	member, err := s.store.GetMember(ctx, boardID, userID)
	if err != nil {
		return nil, fmt.Errorf("reload member: %w", err)
	}

	s.invalidate(ctx, cache.AllMembersPattern(boardID))
	s.publish(ctx, boardID, realtime.EventMemberRoleUpdated, memberJSON(member))
	return memberJSON(member), nil
}

// RemoveMember drops a membership. Admins can remove anyone but the
// owner; any member can remove themselves to leave the board.
func (s *Service) RemoveMember(ctx context.Context, session Session, boardID, userID string) error {
	role, err := s.effectiveRole(ctx, session.UserID, boardID)
	if err != nil {
		return err
	}
	selfLeave := session.UserID == userID
	if !selfLeave && !rbac.Can(role, rbac.ActionAdminister) {
		return errForbidden()
	}
	if selfLeave && role == rbac.RoleNone {
		return errNotFound("member")
	}

	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return fmt.Errorf("load board: %w", err)
	}
	if board.OwnerID == userID {
		return errBadRequest("the board owner cannot be removed")
	}

	removed, err := s.store.DeleteMember(ctx, boardID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return errNotFound("member")
	}

	s.invalidate(ctx, cache.AllMembersPattern(boardID), cache.BoardsKey(userID))
	s.publish(ctx, boardID, realtime.EventMemberRemoved, map[string]any{"boardId": boardID, "userId": userID})
	return nil
}
