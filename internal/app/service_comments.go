package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"taskboard/api/internal/cache"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

func (s *Service) CommentsForCard(ctx context.Context, session Session, cardID string) ([]map[string]any, error) {
	if _, _, err := s.requireCard(ctx, session, cardID, rbac.ActionView); err != nil {
		return nil, err
	}
	key := cache.CommentsKey(session.UserID, cardID)
	var payload []map[string]any
	if s.cached(ctx, key, &payload) {
		return payload, nil
	}
	comments, err := s.store.CommentsByCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	payload = make([]map[string]any, 0, len(comments))
	for _, comment := range comments {
		payload = append(payload, commentJSON(comment))
	}
	s.cacheSet(ctx, key, payload)
	return payload, nil
}

// CreateComment posts a comment on a card. Viewers can read a board
// but commenting requires edit rights.
func (s *Service) CreateComment(ctx context.Context, session Session, cardID, content string) (map[string]any, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errValidation("content is required")
	}
	boardID, _, err := s.requireCard(ctx, session, cardID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	comment := store.Comment{
		ID:      util.NewID(),
		CardID:  cardID,
		UserID:  session.UserID,
		Content: content,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return nil, err
	}
	comment.UserName = session.UserName

	s.invalidate(ctx, cache.AllCommentsPattern(cardID))
	s.publish(ctx, boardID, realtime.EventCommentCreated, commentJSON(comment))
	return commentJSON(comment), nil
}

// DeleteComment removes a comment. The author can always delete their
// own comment; otherwise admin rights on the board are required.
func (s *Service) DeleteComment(ctx context.Context, session Session, commentID string) error {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("comment")
		}
		return err
	}
	boardID, role, err := s.requireCard(ctx, session, comment.CardID, rbac.ActionView)
	if err != nil {
		return err
	}
	if comment.UserID != session.UserID && !rbac.Can(role, rbac.ActionAdminister) {
		return errForbidden()
	}
	if err := s.store.DeleteComment(ctx, commentID); err != nil {
		return err
	}
	s.invalidate(ctx, cache.AllCommentsPattern(comment.CardID))
	s.publish(ctx, boardID, realtime.EventCommentDeleted, map[string]any{"commentId": commentID, "cardId": comment.CardID})
	return nil
}
