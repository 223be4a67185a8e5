package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taskboard/api/internal/auth"
	"taskboard/api/internal/config"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	UserEmail string
	ExpiresAt time.Time
}

// dataStore is the persistence surface the service depends on. The
// production implementation is store.PostgresStore; tests substitute a
// function-field fake.
type dataStore interface {
	Ping(context.Context) error

	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)

	InsertBoard(context.Context, store.Board) error
	GetBoard(context.Context, string) (store.Board, error)
	ListBoardsForUser(context.Context, string) ([]store.Board, error)
	UpdateBoardName(context.Context, string, string) error
	DeleteBoard(context.Context, string) error

	GetMember(context.Context, string, string) (store.Member, error)
	ListMembers(context.Context, string) ([]store.Member, error)
	InsertMember(context.Context, store.Member) error
	UpdateMemberRole(context.Context, string, string, string) (bool, error)
	DeleteMember(context.Context, string, string) (bool, error)

	GetList(context.Context, string) (store.List, error)
	ListsByBoard(context.Context, string) ([]store.List, error)
	UpdateListTitle(context.Context, string, string) error
	CreateList(context.Context, store.List) (store.List, error)
	DeleteList(context.Context, string) error
	MoveList(context.Context, string, int) error

	GetCard(context.Context, string) (store.Card, error)
	CardsByList(context.Context, string) ([]store.Card, error)
	UpdateCardContent(context.Context, store.Card) error
	CreateCard(context.Context, store.Card) (store.Card, error)
	DeleteCard(context.Context, string) error
	MoveCard(context.Context, string, string, int) (store.Card, error)

	GetLabel(context.Context, string) (store.Label, error)
	LabelsByBoard(context.Context, string) ([]store.Label, error)
	InsertLabel(context.Context, store.Label) error
	UpdateLabel(context.Context, store.Label) error
	DeleteLabel(context.Context, string) error
	LabelsByCard(context.Context, string) ([]store.Label, error)
	AttachLabel(context.Context, string, string) error
	DetachLabel(context.Context, string, string) (bool, error)

	GetComment(context.Context, string) (store.Comment, error)
	CommentsByCard(context.Context, string) ([]store.Comment, error)
	InsertComment(context.Context, store.Comment) error
	DeleteComment(context.Context, string) error

	AssigneesByCard(context.Context, string) ([]store.Assignee, error)
	AssignUser(context.Context, string, string) error
	UnassignUser(context.Context, string, string) (bool, error)

	BoardIDForList(context.Context, string) (string, error)
	BoardIDForCard(context.Context, string) (string, error)
	BoardIDForLabel(context.Context, string) (string, error)
}

// responseCache is the read-through cache surface. Nil-safe wrappers in
// the service let tests run without Redis.
type responseCache interface {
	Get(ctx context.Context, key string, dst any) error
	Set(ctx context.Context, key string, v any) error
	InvalidatePattern(ctx context.Context, pattern string) error
}

// eventSink receives board mutation events. Delivery is best effort.
type eventSink interface {
	Publish(ctx context.Context, boardID string, msg realtime.Message)
}

type Service struct {
	store  dataStore
	cache  responseCache
	events eventSink
	logger *log.Logger

	jwtSecret []byte
	accessTTL time.Duration

	publishing sync.WaitGroup
}

func NewService(cfg config.Config, st dataStore, rc responseCache, sink eventSink, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		store:     st,
		cache:     rc,
		events:    sink,
		logger:    logger,
		jwtSecret: []byte(cfg.JWTSecret),
		accessTTL: cfg.AccessTTL,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ── Auth ──

func (s *Service) Register(ctx context.Context, name, email, password string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" {
		return nil, errValidation("name is required")
	}
	if email == "" || !strings.Contains(email, "@") {
		return nil, errValidation("a valid email is required")
	}
	if len(password) < 8 {
		return nil, errValidation("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           util.NewID(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, errConflict("EMAIL_EXISTS", "Email already registered")
		}
		return nil, err
	}

	return s.sessionPayload(user)
}

func (s *Service) Login(ctx context.Context, email, password string) (map[string]any, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	return s.sessionPayload(user)
}

func (s *Service) sessionPayload(user store.User) (map[string]any, error) {
	expiresAt := time.Now().Add(s.accessTTL)
	token, err := auth.IssueToken(s.jwtSecret, auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return map[string]any{
		"token":     token,
		"user":      userJSON(user),
		"expiresAt": expiresAt.Unix(),
	}, nil
}

// SessionFromToken validates a bearer token and loads the account it
// names. A token for a deleted account is treated as invalid.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken(s.jwtSecret, token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, fmt.Errorf("load session user: %w", err)
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		UserEmail: user.Email,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// ── Cache and event plumbing ──

func (s *Service) cached(ctx context.Context, key string, dst any) bool {
	if s.cache == nil {
		return false
	}
	return s.cache.Get(ctx, key, dst) == nil
}

func (s *Service) cacheSet(ctx context.Context, key string, v any) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, v); err != nil {
		s.logger.Printf("cache set %s: %v", key, err)
	}
}

func (s *Service) invalidate(ctx context.Context, patterns ...string) {
	if s.cache == nil {
		return
	}
	for _, pattern := range patterns {
		if err := s.cache.InvalidatePattern(ctx, pattern); err != nil {
			s.logger.Printf("cache invalidate %s: %v", pattern, err)
		}
	}
}

// publish hands the event to the sink on a detached goroutine. The
// mutation is already committed, so the event outlives the request and
// its cancellation.
func (s *Service) publish(ctx context.Context, boardID, event string, payload any, affectedParents ...string) {
	if s.events == nil {
		return
	}
	msg := realtime.Message{
		Event:             event,
		Payload:           payload,
		AffectedParentIDs: affectedParents,
	}
	ctx = context.WithoutCancel(ctx)
	s.publishing.Add(1)
	go func() {
		defer s.publishing.Done()
		s.events.Publish(ctx, boardID, msg)
	}()
}

// ── Response shapes ──

func userJSON(user store.User) map[string]any {
	return map[string]any{
		"id":    user.ID,
		"name":  user.Name,
		"email": user.Email,
	}
}

func boardJSON(board store.Board) map[string]any {
	return map[string]any{
		"id":        board.ID,
		"name":      board.Name,
		"ownerId":   board.OwnerID,
		"createdAt": board.CreatedAt,
		"updatedAt": board.UpdatedAt,
	}
}

func memberJSON(member store.Member) map[string]any {
	return map[string]any{
		"id":      member.ID,
		"boardId": member.BoardID,
		"userId":  member.UserID,
		"role":    member.Role,
		"name":    member.UserName,
		"email":   member.UserEmail,
	}
}

func listJSON(item store.List) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"boardId":   item.BoardID,
		"title":     item.Title,
		"position":  item.Position,
		"createdAt": item.CreatedAt,
		"updatedAt": item.UpdatedAt,
	}
}

func cardJSON(item store.Card) map[string]any {
	payload := map[string]any{
		"id":          item.ID,
		"listId":      item.ListID,
		"title":       item.Title,
		"description": item.Description,
		"position":    item.Position,
		"createdAt":   item.CreatedAt,
		"updatedAt":   item.UpdatedAt,
	}
	if item.DueDate != nil {
		payload["dueDate"] = item.DueDate.UTC().Format(time.RFC3339)
	} else {
		payload["dueDate"] = nil
	}
	return payload
}

func labelJSON(item store.Label) map[string]any {
	return map[string]any{
		"id":      item.ID,
		"boardId": item.BoardID,
		"name":    item.Name,
		"color":   item.Color,
	}
}

func commentJSON(item store.Comment) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"cardId":    item.CardID,
		"userId":    item.UserID,
		"userName":  item.UserName,
		"content":   item.Content,
		"createdAt": item.CreatedAt,
	}
}

func assigneeJSON(item store.Assignee) map[string]any {
	return map[string]any{
		"cardId": item.CardID,
		"userId": item.UserID,
		"name":   item.UserName,
		"email":  item.UserEmail,
	}
}
