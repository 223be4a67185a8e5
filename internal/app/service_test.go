package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taskboard/api/internal/config"
	"taskboard/api/internal/ordering"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/store"
)

type fakeStore struct {
	createUserFn        func(context.Context, store.User) error
	getUserByEmailFn    func(context.Context, string) (store.User, error)
	getUserByIDFn       func(context.Context, string) (store.User, error)
	insertBoardFn       func(context.Context, store.Board) error
	getBoardFn          func(context.Context, string) (store.Board, error)
	listBoardsForUserFn func(context.Context, string) ([]store.Board, error)
	updateBoardNameFn   func(context.Context, string, string) error
	deleteBoardFn       func(context.Context, string) error
	getMemberFn         func(context.Context, string, string) (store.Member, error)
	listMembersFn       func(context.Context, string) ([]store.Member, error)
	insertMemberFn      func(context.Context, store.Member) error
	updateMemberRoleFn  func(context.Context, string, string, string) (bool, error)
	deleteMemberFn      func(context.Context, string, string) (bool, error)
	getListFn           func(context.Context, string) (store.List, error)
	listsByBoardFn      func(context.Context, string) ([]store.List, error)
	updateListTitleFn   func(context.Context, string, string) error
	createListFn        func(context.Context, store.List) (store.List, error)
	deleteListFn        func(context.Context, string) error
	moveListFn          func(context.Context, string, int) error
	getCardFn           func(context.Context, string) (store.Card, error)
	cardsByListFn       func(context.Context, string) ([]store.Card, error)
	updateCardContentFn func(context.Context, store.Card) error
	createCardFn        func(context.Context, store.Card) (store.Card, error)
	deleteCardFn        func(context.Context, string) error
	moveCardFn          func(context.Context, string, string, int) (store.Card, error)
	getLabelFn          func(context.Context, string) (store.Label, error)
	labelsByBoardFn     func(context.Context, string) ([]store.Label, error)
	insertLabelFn       func(context.Context, store.Label) error
	attachLabelFn       func(context.Context, string, string) error
	detachLabelFn       func(context.Context, string, string) (bool, error)
	getCommentFn        func(context.Context, string) (store.Comment, error)
	commentsByCardFn    func(context.Context, string) ([]store.Comment, error)
	insertCommentFn     func(context.Context, store.Comment) error
	deleteCommentFn     func(context.Context, string) error
	assigneesByCardFn   func(context.Context, string) ([]store.Assignee, error)
	assignUserFn        func(context.Context, string, string) error
	unassignUserFn      func(context.Context, string, string) (bool, error)
	boardIDForListFn    func(context.Context, string) (string, error)
	boardIDForCardFn    func(context.Context, string) (string, error)
	boardIDForLabelFn   func(context.Context, string) (string, error)
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) InsertBoard(ctx context.Context, board store.Board) error {
	if f.insertBoardFn != nil {
		return f.insertBoardFn(ctx, board)
	}
	return nil
}
func (f *fakeStore) GetBoard(ctx context.Context, boardID string) (store.Board, error) {
	if f.getBoardFn != nil {
		return f.getBoardFn(ctx, boardID)
	}
	return store.Board{}, sql.ErrNoRows
}
func (f *fakeStore) ListBoardsForUser(ctx context.Context, userID string) ([]store.Board, error) {
	if f.listBoardsForUserFn != nil {
		return f.listBoardsForUserFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateBoardName(ctx context.Context, boardID, name string) error {
	if f.updateBoardNameFn != nil {
		return f.updateBoardNameFn(ctx, boardID, name)
	}
	return nil
}
func (f *fakeStore) DeleteBoard(ctx context.Context, boardID string) error {
	if f.deleteBoardFn != nil {
		return f.deleteBoardFn(ctx, boardID)
	}
	return nil
}
func (f *fakeStore) GetMember(ctx context.Context, boardID, userID string) (store.Member, error) {
	if f.getMemberFn != nil {
		return f.getMemberFn(ctx, boardID, userID)
	}
	return store.Member{}, sql.ErrNoRows
}
func (f *fakeStore) ListMembers(ctx context.Context, boardID string) ([]store.Member, error) {
	if f.listMembersFn != nil {
		return f.listMembersFn(ctx, boardID)
	}
	return nil, nil
}
func (f *fakeStore) InsertMember(ctx context.Context, member store.Member) error {
	if f.insertMemberFn != nil {
		return f.insertMemberFn(ctx, member)
	}
	return nil
}
func (f *fakeStore) UpdateMemberRole(ctx context.Context, boardID, userID, role string) (bool, error) {
	if f.updateMemberRoleFn != nil {
		return f.updateMemberRoleFn(ctx, boardID, userID, role)
	}
	return true, nil
}
func (f *fakeStore) DeleteMember(ctx context.Context, boardID, userID string) (bool, error) {
	if f.deleteMemberFn != nil {
		return f.deleteMemberFn(ctx, boardID, userID)
	}
	return true, nil
}
func (f *fakeStore) GetList(ctx context.Context, listID string) (store.List, error) {
	if f.getListFn != nil {
		return f.getListFn(ctx, listID)
	}
	return store.List{}, sql.ErrNoRows
}
func (f *fakeStore) ListsByBoard(ctx context.Context, boardID string) ([]store.List, error) {
	if f.listsByBoardFn != nil {
		return f.listsByBoardFn(ctx, boardID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateListTitle(ctx context.Context, listID, title string) error {
	if f.updateListTitleFn != nil {
		return f.updateListTitleFn(ctx, listID, title)
	}
	return nil
}
func (f *fakeStore) CreateList(ctx context.Context, item store.List) (store.List, error) {
	if f.createListFn != nil {
		return f.createListFn(ctx, item)
	}
	return item, nil
}
func (f *fakeStore) DeleteList(ctx context.Context, listID string) error {
	if f.deleteListFn != nil {
		return f.deleteListFn(ctx, listID)
	}
	return nil
}
func (f *fakeStore) MoveList(ctx context.Context, listID string, newPos int) error {
	if f.moveListFn != nil {
		return f.moveListFn(ctx, listID, newPos)
	}
	return nil
}
func (f *fakeStore) GetCard(ctx context.Context, cardID string) (store.Card, error) {
	if f.getCardFn != nil {
		return f.getCardFn(ctx, cardID)
	}
	return store.Card{}, sql.ErrNoRows
}
func (f *fakeStore) CardsByList(ctx context.Context, listID string) ([]store.Card, error) {
	if f.cardsByListFn != nil {
		return f.cardsByListFn(ctx, listID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateCardContent(ctx context.Context, card store.Card) error {
	if f.updateCardContentFn != nil {
		return f.updateCardContentFn(ctx, card)
	}
	return nil
}
func (f *fakeStore) CreateCard(ctx context.Context, card store.Card) (store.Card, error) {
	if f.createCardFn != nil {
		return f.createCardFn(ctx, card)
	}
	return card, nil
}
func (f *fakeStore) DeleteCard(ctx context.Context, cardID string) error {
	if f.deleteCardFn != nil {
		return f.deleteCardFn(ctx, cardID)
	}
	return nil
}
func (f *fakeStore) MoveCard(ctx context.Context, cardID, newListID string, newPos int) (store.Card, error) {
	if f.moveCardFn != nil {
		return f.moveCardFn(ctx, cardID, newListID, newPos)
	}
	return store.Card{ID: cardID, ListID: newListID, Position: newPos}, nil
}
func (f *fakeStore) GetLabel(ctx context.Context, labelID string) (store.Label, error) {
	if f.getLabelFn != nil {
		return f.getLabelFn(ctx, labelID)
	}
	return store.Label{}, sql.ErrNoRows
}
func (f *fakeStore) LabelsByBoard(ctx context.Context, boardID string) ([]store.Label, error) {
	if f.labelsByBoardFn != nil {
		return f.labelsByBoardFn(ctx, boardID)
	}
	return nil, nil
}
func (f *fakeStore) InsertLabel(ctx context.Context, label store.Label) error {
	if f.insertLabelFn != nil {
		return f.insertLabelFn(ctx, label)
	}
	return nil
}
func (f *fakeStore) UpdateLabel(context.Context, store.Label) error { return nil }
func (f *fakeStore) DeleteLabel(context.Context, string) error      { return nil }
func (f *fakeStore) LabelsByCard(context.Context, string) ([]store.Label, error) {
	return nil, nil
}
func (f *fakeStore) AttachLabel(ctx context.Context, cardID, labelID string) error {
	if f.attachLabelFn != nil {
		return f.attachLabelFn(ctx, cardID, labelID)
	}
	return nil
}
func (f *fakeStore) DetachLabel(ctx context.Context, cardID, labelID string) (bool, error) {
	if f.detachLabelFn != nil {
		return f.detachLabelFn(ctx, cardID, labelID)
	}
	return true, nil
}
func (f *fakeStore) GetComment(ctx context.Context, commentID string) (store.Comment, error) {
	if f.getCommentFn != nil {
		return f.getCommentFn(ctx, commentID)
	}
	return store.Comment{}, sql.ErrNoRows
}
func (f *fakeStore) CommentsByCard(ctx context.Context, cardID string) ([]store.Comment, error) {
	if f.commentsByCardFn != nil {
		return f.commentsByCardFn(ctx, cardID)
	}
	return nil, nil
}
func (f *fakeStore) InsertComment(ctx context.Context, comment store.Comment) error {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, comment)
	}
	return nil
}
func (f *fakeStore) DeleteComment(ctx context.Context, commentID string) error {
	if f.deleteCommentFn != nil {
		return f.deleteCommentFn(ctx, commentID)
	}
	return nil
}
func (f *fakeStore) AssigneesByCard(ctx context.Context, cardID string) ([]store.Assignee, error) {
	if f.assigneesByCardFn != nil {
		return f.assigneesByCardFn(ctx, cardID)
	}
	return nil, nil
}
func (f *fakeStore) AssignUser(ctx context.Context, cardID, userID string) error {
	if f.assignUserFn != nil {
		return f.assignUserFn(ctx, cardID, userID)
	}
	return nil
}
func (f *fakeStore) UnassignUser(ctx context.Context, cardID, userID string) (bool, error) {
	if f.unassignUserFn != nil {
		return f.unassignUserFn(ctx, cardID, userID)
	}
	return true, nil
}
func (f *fakeStore) BoardIDForList(ctx context.Context, listID string) (string, error) {
	if f.boardIDForListFn != nil {
		return f.boardIDForListFn(ctx, listID)
	}
	return "", sql.ErrNoRows
}
func (f *fakeStore) BoardIDForCard(ctx context.Context, cardID string) (string, error) {
	if f.boardIDForCardFn != nil {
		return f.boardIDForCardFn(ctx, cardID)
	}
	return "", sql.ErrNoRows
}
func (f *fakeStore) BoardIDForLabel(ctx context.Context, labelID string) (string, error) {
	if f.boardIDForLabelFn != nil {
		return f.boardIDForLabelFn(ctx, labelID)
	}
	return "", sql.ErrNoRows
}

type recordedEvent struct {
	boardID string
	msg     realtime.Message
	ctxErr  error
}

type fakeSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeSink) Publish(ctx context.Context, boardID string, msg realtime.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{boardID: boardID, msg: msg, ctxErr: ctx.Err()})
}

// drain waits for in-flight publish goroutines and returns what reached
// the sink.
func drain(svc *Service, sink *fakeSink) []recordedEvent {
	svc.publishing.Wait()
	sink.mu.Lock()
	defer sink.mu.Unlock()
	return append([]recordedEvent(nil), sink.events...)
}

func newTestService(st dataStore) (*Service, *fakeSink) {
	sink := &fakeSink{}
	cfg := config.Config{JWTSecret: "test-secret", AccessTTL: time.Hour}
	svc := NewService(cfg, st, nil, sink, log.New(os.Stderr, "", 0))
	return svc, sink
}

// boardFixture wires a fake store for one board with an owner and one
// member at the given role.
func boardFixture(memberRole string) *fakeStore {
	return &fakeStore{
		getBoardFn: func(_ context.Context, boardID string) (store.Board, error) {
			if boardID != "b1" {
				return store.Board{}, sql.ErrNoRows
			}
			return store.Board{ID: "b1", Name: "Roadmap", OwnerID: "owner"}, nil
		},
		getMemberFn: func(_ context.Context, boardID, userID string) (store.Member, error) {
			if boardID == "b1" && userID == "member" && memberRole != "" {
				return store.Member{ID: "m1", BoardID: "b1", UserID: "member", Role: memberRole}, nil
			}
			return store.Member{}, sql.ErrNoRows
		},
		boardIDForListFn: func(_ context.Context, listID string) (string, error) {
			if listID == "l1" || listID == "l2" {
				return "b1", nil
			}
			return "", sql.ErrNoRows
		},
		boardIDForCardFn: func(_ context.Context, cardID string) (string, error) {
			if cardID == "c1" {
				return "b1", nil
			}
			return "", sql.ErrNoRows
		},
		getListFn: func(_ context.Context, listID string) (store.List, error) {
			if listID == "l1" {
				return store.List{ID: "l1", BoardID: "b1", Title: "Todo"}, nil
			}
			return store.List{}, sql.ErrNoRows
		},
		getCardFn: func(_ context.Context, cardID string) (store.Card, error) {
			if cardID == "c1" {
				return store.Card{ID: "c1", ListID: "l1", Title: "Ship it"}, nil
			}
			return store.Card{}, sql.ErrNoRows
		},
	}
}

func requireDomainStatus(t *testing.T, err error, status int) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != status {
		t.Fatalf("expected status %d, got %d (%s)", status, domainErr.Status, domainErr.Code)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	var saved store.User
	st := &fakeStore{
		createUserFn: func(_ context.Context, user store.User) error {
			saved = user
			return nil
		},
	}
	svc, _ := newTestService(st)

	payload, err := svc.Register(context.Background(), "Dana", "Dana@Example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if payload["token"] == "" {
		t.Fatal("expected a token")
	}
	if saved.Email != "dana@example.com" {
		t.Fatalf("email not normalized: %q", saved.Email)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(saved.PasswordHash), []byte("hunter2hunter2")); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}

	st.getUserByEmailFn = func(_ context.Context, email string) (store.User, error) {
		if email == "dana@example.com" {
			return saved, nil
		}
		return store.User{}, sql.ErrNoRows
	}
	if _, err := svc.Login(context.Background(), "dana@example.com", "hunter2hunter2"); err != nil {
		t.Fatalf("login: %v", err)
	}
	_, err = svc.Login(context.Background(), "dana@example.com", "wrong-password")
	requireDomainStatus(t, err, 401)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})
	cases := []struct {
		name, email, password string
	}{
		{"", "a@b.com", "longenough"},
		{"Dana", "not-an-email", "longenough"},
		{"Dana", "a@b.com", "short"},
	}
	for _, tc := range cases {
		_, err := svc.Register(context.Background(), tc.name, tc.email, tc.password)
		requireDomainStatus(t, err, 422)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	st := &fakeStore{
		createUserFn: func(context.Context, store.User) error {
			return store.ErrAlreadyExists
		},
	}
	svc, _ := newTestService(st)
	_, err := svc.Register(context.Background(), "Dana", "dana@example.com", "hunter2hunter2")
	requireDomainStatus(t, err, 409)
}

func TestViewerCannotEdit(t *testing.T) {
	svc, _ := newTestService(boardFixture("VIEWER"))
	session := Session{UserID: "member"}

	_, err := svc.CreateList(context.Background(), session, "b1", "Todo")
	requireDomainStatus(t, err, 403)
	_, err = svc.CreateCard(context.Background(), session, "l1", CardInput{Title: "Task"})
	requireDomainStatus(t, err, 403)
	_, err = svc.MoveCard(context.Background(), session, "c1", "l1", 0)
	requireDomainStatus(t, err, 403)
	_, err = svc.CreateComment(context.Background(), session, "c1", "hi")
	requireDomainStatus(t, err, 403)
}

func TestViewerCanRead(t *testing.T) {
	svc, _ := newTestService(boardFixture("VIEWER"))
	session := Session{UserID: "member"}

	if _, err := svc.GetBoard(context.Background(), session, "b1"); err != nil {
		t.Fatalf("viewer read board: %v", err)
	}
	if _, err := svc.CardsForList(context.Background(), session, "l1"); err != nil {
		t.Fatalf("viewer read cards: %v", err)
	}
}

func TestNonMemberIsForbidden(t *testing.T) {
	svc, _ := newTestService(boardFixture(""))
	session := Session{UserID: "stranger"}

	_, err := svc.GetBoard(context.Background(), session, "b1")
	requireDomainStatus(t, err, 403)
}

func TestEditorCannotAdminister(t *testing.T) {
	svc, _ := newTestService(boardFixture("EDITOR"))
	session := Session{UserID: "member"}

	_, err := svc.RenameBoard(context.Background(), session, "b1", "New name")
	requireDomainStatus(t, err, 403)
	_, err = svc.InviteMember(context.Background(), session, "b1", "x@y.com", "EDITOR")
	requireDomainStatus(t, err, 403)
}

func TestEditorCanEdit(t *testing.T) {
	svc, sink := newTestService(boardFixture("EDITOR"))
	session := Session{UserID: "member"}

	if _, err := svc.CreateList(context.Background(), session, "b1", "Doing"); err != nil {
		t.Fatalf("editor create list: %v", err)
	}
	if events := drain(svc, sink); len(events) != 1 || events[0].msg.Event != realtime.EventListCreated {
		t.Fatalf("expected list:created event, got %+v", events)
	}
}

func TestPublishOutlivesRequestContext(t *testing.T) {
	st := boardFixture("EDITOR")
	svc, sink := newTestService(st)
	ctx, cancel := context.WithCancel(context.Background())

	if _, err := svc.CreateList(ctx, Session{UserID: "member"}, "b1", "Doing"); err != nil {
		t.Fatalf("create list: %v", err)
	}
	cancel()

	events := drain(svc, sink)
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	if events[0].ctxErr != nil {
		t.Fatalf("sink must receive an uncancellable context, got %v", events[0].ctxErr)
	}
}

func TestAdminCannotRenameBoard(t *testing.T) {
	st := boardFixture("ADMIN")
	renamed := false
	st.updateBoardNameFn = func(_ context.Context, _, _ string) error {
		renamed = true
		return nil
	}
	svc, _ := newTestService(st)
	session := Session{UserID: "member"}

	_, err := svc.RenameBoard(context.Background(), session, "b1", "Renamed")
	requireDomainStatus(t, err, 403)
	if renamed {
		t.Fatal("board must not be renamed by a non-owner")
	}
}

func TestOwnerCanRenameBoard(t *testing.T) {
	svc, _ := newTestService(boardFixture(""))
	session := Session{UserID: "owner"}

	if _, err := svc.RenameBoard(context.Background(), session, "b1", "Renamed"); err != nil {
		t.Fatalf("RenameBoard() error = %v", err)
	}
}

func TestAdminCannotDeleteBoard(t *testing.T) {
	svc, _ := newTestService(boardFixture("ADMIN"))
	session := Session{UserID: "member"}

	err := svc.DeleteBoard(context.Background(), session, "b1")
	requireDomainStatus(t, err, 403)
}

func TestOwnerCanDeleteBoard(t *testing.T) {
	svc, _ := newTestService(boardFixture(""))
	session := Session{UserID: "owner"}

	if err := svc.DeleteBoard(context.Background(), session, "b1"); err != nil {
		t.Fatalf("owner delete board: %v", err)
	}
}

func TestMissingBoardIsNotFound(t *testing.T) {
	svc, _ := newTestService(boardFixture("ADMIN"))
	session := Session{UserID: "owner"}

	_, err := svc.GetBoard(context.Background(), session, "nope")
	requireDomainStatus(t, err, 404)
}

func TestInviteDefaultsToViewer(t *testing.T) {
	st := boardFixture("")
	var inserted store.Member
	st.getUserByEmailFn = func(_ context.Context, email string) (store.User, error) {
		if email == "guest@example.com" {
			return store.User{ID: "guest", Name: "Guest", Email: email}, nil
		}
		return store.User{}, sql.ErrNoRows
	}
	st.insertMemberFn = func(_ context.Context, member store.Member) error {
		inserted = member
		return nil
	}
	svc, sink := newTestService(st)

	payload, err := svc.InviteMember(context.Background(), Session{UserID: "owner"}, "b1", "guest@example.com", "")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if inserted.Role != "VIEWER" {
		t.Fatalf("expected VIEWER default, got %q", inserted.Role)
	}
	if payload["role"] != "VIEWER" {
		t.Fatalf("payload role mismatch: %v", payload["role"])
	}
	if events := drain(svc, sink); len(events) != 1 || events[0].msg.Event != realtime.EventMemberAdded {
		t.Fatalf("expected member added event, got %+v", events)
	}
}

func TestInviteRejectsOwnerRole(t *testing.T) {
	st := boardFixture("")
	st.getUserByEmailFn = func(_ context.Context, email string) (store.User, error) {
		return store.User{ID: "guest", Email: email}, nil
	}
	svc, _ := newTestService(st)

	_, err := svc.InviteMember(context.Background(), Session{UserID: "owner"}, "b1", "guest@example.com", "OWNER")
	requireDomainStatus(t, err, 422)
}

func TestInviteOwnerRejected(t *testing.T) {
	st := boardFixture("")
	st.getUserByEmailFn = func(_ context.Context, email string) (store.User, error) {
		return store.User{ID: "owner", Email: email}, nil
	}
	svc, _ := newTestService(st)

	_, err := svc.InviteMember(context.Background(), Session{UserID: "owner"}, "b1", "owner@example.com", "EDITOR")
	requireDomainStatus(t, err, 400)
}

func TestInviteDuplicateConflicts(t *testing.T) {
	st := boardFixture("")
	st.getUserByEmailFn = func(_ context.Context, email string) (store.User, error) {
		return store.User{ID: "guest", Email: email}, nil
	}
	st.insertMemberFn = func(context.Context, store.Member) error {
		return store.ErrAlreadyExists
	}
	svc, _ := newTestService(st)

	_, err := svc.InviteMember(context.Background(), Session{UserID: "owner"}, "b1", "guest@example.com", "EDITOR")
	requireDomainStatus(t, err, 409)
}

func TestOwnerRoleCannotChange(t *testing.T) {
	svc, _ := newTestService(boardFixture(""))

	_, err := svc.UpdateMemberRole(context.Background(), Session{UserID: "owner"}, "b1", "owner", "EDITOR")
	requireDomainStatus(t, err, 400)
}

func TestOwnerCannotBeRemoved(t *testing.T) {
	svc, _ := newTestService(boardFixture(""))

	err := svc.RemoveMember(context.Background(), Session{UserID: "owner"}, "b1", "owner")
	requireDomainStatus(t, err, 400)
}

func TestMemberCanLeaveBoard(t *testing.T) {
	st := boardFixture("VIEWER")
	removed := false
	st.deleteMemberFn = func(_ context.Context, boardID, userID string) (bool, error) {
		removed = boardID == "b1" && userID == "member"
		return removed, nil
	}
	svc, _ := newTestService(st)

	if err := svc.RemoveMember(context.Background(), Session{UserID: "member"}, "b1", "member"); err != nil {
		t.Fatalf("self leave: %v", err)
	}
	if !removed {
		t.Fatal("member row was not deleted")
	}
}

func TestViewerCannotRemoveOthers(t *testing.T) {
	svc, _ := newTestService(boardFixture("VIEWER"))

	err := svc.RemoveMember(context.Background(), Session{UserID: "member"}, "b1", "someone-else")
	requireDomainStatus(t, err, 403)
}

func TestMoveCardRejectsCrossBoard(t *testing.T) {
	st := boardFixture("EDITOR")
	st.boardIDForListFn = func(_ context.Context, listID string) (string, error) {
		switch listID {
		case "l1":
			return "b1", nil
		case "other-board-list":
			return "b2", nil
		}
		return "", sql.ErrNoRows
	}
	moveCalled := false
	st.moveCardFn = func(context.Context, string, string, int) (store.Card, error) {
		moveCalled = true
		return store.Card{}, nil
	}
	svc, _ := newTestService(st)

	_, err := svc.MoveCard(context.Background(), Session{UserID: "member"}, "c1", "other-board-list", 0)
	requireDomainStatus(t, err, 400)
	if moveCalled {
		t.Fatal("move must be rejected before any position changes")
	}
}

func TestMoveCardPositionOutOfRange(t *testing.T) {
	st := boardFixture("EDITOR")
	st.moveCardFn = func(context.Context, string, string, int) (store.Card, error) {
		return store.Card{}, ordering.ErrPositionOutOfRange
	}
	svc, _ := newTestService(st)

	_, err := svc.MoveCard(context.Background(), Session{UserID: "member"}, "c1", "l1", 99)
	requireDomainStatus(t, err, 422)
}

func TestMoveCardPublishesBothLists(t *testing.T) {
	st := boardFixture("EDITOR")
	st.moveCardFn = func(_ context.Context, cardID, newListID string, newPos int) (store.Card, error) {
		return store.Card{ID: cardID, ListID: newListID, Position: newPos}, nil
	}
	svc, sink := newTestService(st)

	if _, err := svc.MoveCard(context.Background(), Session{UserID: "member"}, "c1", "l2", 1); err != nil {
		t.Fatalf("move card: %v", err)
	}
	events := drain(svc, sink)
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	msg := events[0].msg
	if msg.Event != realtime.EventCardMoved {
		t.Fatalf("wrong event: %s", msg.Event)
	}
	if len(msg.AffectedParentIDs) != 2 || msg.AffectedParentIDs[0] != "l1" || msg.AffectedParentIDs[1] != "l2" {
		t.Fatalf("affected parents mismatch: %v", msg.AffectedParentIDs)
	}
}

func TestMoveListPositionOutOfRange(t *testing.T) {
	st := boardFixture("EDITOR")
	st.moveListFn = func(context.Context, string, int) error {
		return ordering.ErrPositionOutOfRange
	}
	svc, _ := newTestService(st)

	_, err := svc.MoveList(context.Background(), Session{UserID: "member"}, "l1", 42)
	requireDomainStatus(t, err, 422)
}

func TestAssigneeMustBeMember(t *testing.T) {
	svc, _ := newTestService(boardFixture("EDITOR"))

	err := svc.AssignUser(context.Background(), Session{UserID: "member"}, "c1", "stranger")
	requireDomainStatus(t, err, 400)
}

func TestAttachLabelWrongBoard(t *testing.T) {
	st := boardFixture("EDITOR")
	st.boardIDForLabelFn = func(context.Context, string) (string, error) {
		return "b2", nil
	}
	svc, _ := newTestService(st)

	err := svc.AttachLabel(context.Background(), Session{UserID: "member"}, "c1", "lab1")
	requireDomainStatus(t, err, 400)
}

func TestAttachLabelDuplicateConflicts(t *testing.T) {
	st := boardFixture("EDITOR")
	st.boardIDForLabelFn = func(context.Context, string) (string, error) {
		return "b1", nil
	}
	st.attachLabelFn = func(context.Context, string, string) error {
		return store.ErrAlreadyExists
	}
	svc, _ := newTestService(st)

	err := svc.AttachLabel(context.Background(), Session{UserID: "member"}, "c1", "lab1")
	requireDomainStatus(t, err, 409)
}

func TestCommentAuthorCanDelete(t *testing.T) {
	st := boardFixture("EDITOR")
	st.getCommentFn = func(context.Context, string) (store.Comment, error) {
		return store.Comment{ID: "cm1", CardID: "c1", UserID: "member"}, nil
	}
	svc, _ := newTestService(st)

	if err := svc.DeleteComment(context.Background(), Session{UserID: "member"}, "cm1"); err != nil {
		t.Fatalf("author delete: %v", err)
	}
}

func TestCommentOtherEditorCannotDelete(t *testing.T) {
	st := boardFixture("EDITOR")
	st.getCommentFn = func(context.Context, string) (store.Comment, error) {
		return store.Comment{ID: "cm1", CardID: "c1", UserID: "someone-else"}, nil
	}
	svc, _ := newTestService(st)

	err := svc.DeleteComment(context.Background(), Session{UserID: "member"}, "cm1")
	requireDomainStatus(t, err, 403)
}

func TestCommentOwnerCanDeleteAny(t *testing.T) {
	st := boardFixture("EDITOR")
	st.getCommentFn = func(context.Context, string) (store.Comment, error) {
		return store.Comment{ID: "cm1", CardID: "c1", UserID: "member"}, nil
	}
	svc, _ := newTestService(st)

	if err := svc.DeleteComment(context.Background(), Session{UserID: "owner"}, "cm1"); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
}

func TestSessionFromTokenDeletedUser(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})

	payload := mustSessionPayload(t, svc)
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatal("fixture token missing")
	}
	_, err := svc.SessionFromToken(context.Background(), token)
	if err == nil {
		t.Fatal("expected error for deleted account")
	}
}

func mustSessionPayload(t *testing.T, svc *Service) map[string]any {
	t.Helper()
	payload, err := svc.sessionPayload(store.User{ID: "ghost", Email: "ghost@example.com"})
	if err != nil {
		t.Fatalf("session payload: %v", err)
	}
	return payload
}
