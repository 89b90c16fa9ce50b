package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"hakwon/consult/internal/model"
	"hakwon/consult/internal/realtime"
)

type fakeStore struct {
	rooms    map[string]model.ChatRoom
	messages []model.Message
	roles    map[string]string
	members  map[string]model.AcademyMember

	keyMisses     int
	createRoomErr error
	touchErr      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rooms:   map[string]model.ChatRoom{},
		roles:   map[string]string{},
		members: map[string]model.AcademyMember{},
	}
}

func (f *fakeStore) GetRoom(_ context.Context, roomID string) (model.ChatRoom, error) {
	room, ok := f.rooms[roomID]
	if !ok {
		return model.ChatRoom{}, pgx.ErrNoRows
	}
	return room, nil
}

func (f *fakeStore) GetRoomByKey(_ context.Context, academyID, parentID string, staffID *string) (model.ChatRoom, error) {
	if f.keyMisses > 0 {
		f.keyMisses--
		return model.ChatRoom{}, pgx.ErrNoRows
	}
	for _, room := range f.rooms {
		if room.AcademyID != academyID || room.ParentID != parentID {
			continue
		}
		if staffID == nil && room.StaffID == nil {
			return room, nil
		}
		if staffID != nil && room.StaffID != nil && *staffID == *room.StaffID {
			return room, nil
		}
	}
	return model.ChatRoom{}, pgx.ErrNoRows
}

func (f *fakeStore) CreateRoom(_ context.Context, room model.ChatRoom) error {
	if f.createRoomErr != nil {
		return f.createRoomErr
	}
	f.rooms[room.ID] = room
	return nil
}

func (f *fakeStore) TouchRoom(_ context.Context, roomID string, at time.Time) error {
	if f.touchErr != nil {
		return f.touchErr
	}
	room := f.rooms[roomID]
	room.LastMessageAt = at
	f.rooms[roomID] = room
	return nil
}

func (f *fakeStore) ListRoomsForParent(_ context.Context, userID string) ([]model.ChatRoom, error) {
	var rooms []model.ChatRoom
	for _, room := range f.rooms {
		if room.ParentID == userID {
			rooms = append(rooms, room)
		}
	}
	return rooms, nil
}

func (f *fakeStore) ListRoomsForStaff(_ context.Context, userID string) ([]model.ChatRoom, error) {
	var rooms []model.ChatRoom
	for _, room := range f.rooms {
		member, ok := f.members[room.AcademyID+"/"+userID]
		if ok && member.Approved {
			rooms = append(rooms, room)
		}
	}
	return rooms, nil
}

func (f *fakeStore) CreateMessage(_ context.Context, message model.Message) error {
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeStore) ListMessages(_ context.Context, roomID string) ([]model.Message, error) {
	var messages []model.Message
	for _, message := range f.messages {
		if message.ChatRoomID == roomID {
			messages = append(messages, message)
		}
	}
	return messages, nil
}

func (f *fakeStore) MarkRoomMessagesRead(_ context.Context, roomID, readerID string) error {
	for i, message := range f.messages {
		if message.ChatRoomID == roomID && message.SenderID != readerID {
			f.messages[i].IsRead = true
		}
	}
	return nil
}

func (f *fakeStore) MarkMessageRead(_ context.Context, messageID, roomID, readerID string) error {
	for i, message := range f.messages {
		if message.ID == messageID && message.ChatRoomID == roomID && message.SenderID != readerID {
			f.messages[i].IsRead = true
		}
	}
	return nil
}

func (f *fakeStore) UnreadCountForParent(_ context.Context, userID string) (int64, error) {
	var count int64
	for _, message := range f.messages {
		room, ok := f.rooms[message.ChatRoomID]
		if ok && room.ParentID == userID && !message.IsRead && message.SenderID != userID {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) UnreadCountForStaff(_ context.Context, userID string) (int64, error) {
	var count int64
	for _, message := range f.messages {
		room, ok := f.rooms[message.ChatRoomID]
		if !ok {
			continue
		}
		member, ok := f.members[room.AcademyID+"/"+userID]
		if ok && member.Approved && !message.IsRead && message.SenderID != userID {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) GetUserRole(_ context.Context, userID string) (string, error) {
	role, ok := f.roles[userID]
	if !ok {
		return "", pgx.ErrNoRows
	}
	return role, nil
}

func (f *fakeStore) GetAcademyMember(_ context.Context, academyID, userID string) (model.AcademyMember, error) {
	member, ok := f.members[academyID+"/"+userID]
	if !ok {
		return model.AcademyMember{}, pgx.ErrNoRows
	}
	return member, nil
}

func newTestService(store Store) *Service {
	return NewService(store, realtime.NewHub(nil), "instructor")
}

func TestGetOrCreateRoomReturnsSameRoom(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store)
	ctx := context.Background()

	first, err := service.GetOrCreateRoom(ctx, "academy-1", "parent-1", nil, false)
	if err != nil {
		t.Fatalf("first create error: %v", err)
	}
	second, err := service.GetOrCreateRoom(ctx, "academy-1", "parent-1", nil, false)
	if err != nil {
		t.Fatalf("second create error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected one room, got %s and %s", first.ID, second.ID)
	}
	if len(store.rooms) != 1 {
		t.Fatalf("expected 1 room row, got %d", len(store.rooms))
	}
}

func TestGetOrCreateRoomDistinguishesStaffKey(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store)
	ctx := context.Background()

	generic, err := service.GetOrCreateRoom(ctx, "academy-1", "parent-1", nil, false)
	if err != nil {
		t.Fatalf("generic create error: %v", err)
	}
	staffID := "staff-1"
	pinned, err := service.GetOrCreateRoom(ctx, "academy-1", "parent-1", &staffID, false)
	if err != nil {
		t.Fatalf("pinned create error: %v", err)
	}
	if generic.ID == pinned.ID {
		t.Fatalf("expected the generic and staff-pinned rooms to be distinct")
	}
}

func TestGetOrCreateRoomLostRaceReReads(t *testing.T) {
	store := newFakeStore()
	winner := model.ChatRoom{ID: "room-winner", AcademyID: "academy-1", ParentID: "parent-1"}
	store.rooms[winner.ID] = winner
	store.keyMisses = 1
	store.createRoomErr = &pgconn.PgError{Code: "23505"}
	service := newTestService(store)

	room, err := service.GetOrCreateRoom(context.Background(), "academy-1", "parent-1", nil, false)
	if err != nil {
		t.Fatalf("expected race to resolve, got %v", err)
	}
	if room.ID != "room-winner" {
		t.Fatalf("expected the winner's room, got %s", room.ID)
	}
}

func TestGetOrCreateRoomSeedsRequestMessage(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store)
	staffID := "staff-1"

	room, err := service.GetOrCreateRoom(context.Background(), "academy-1", "parent-1", &staffID, true)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	messages, _ := store.ListMessages(context.Background(), room.ID)
	if len(messages) != 1 {
		t.Fatalf("expected one seeded message, got %d", len(messages))
	}
	if messages[0].SenderID != "parent-1" || messages[0].Content != InitialRequestMessage {
		t.Fatalf("unexpected seed message %+v", messages[0])
	}
}

func TestSendMessageInstructorGate(t *testing.T) {
	store := newFakeStore()
	store.roles["parent-1"] = RoleParent
	store.members["academy-1/staff-1"] = model.AcademyMember{
		AcademyID: "academy-1", UserID: "staff-1",
		MemberRole: MemberStaff, RoleLabel: "instructor", Approved: true,
	}
	service := newTestService(store)
	ctx := context.Background()
	staffID := "staff-1"

	room, err := service.GetOrCreateRoom(ctx, "academy-1", "parent-1", &staffID, true)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}

	if _, err := service.SendMessage(ctx, room.ID, "parent-1", "hello?"); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("expected gate rejection before instructor reply, got %v", err)
	}

	if _, err := service.SendMessage(ctx, room.ID, "staff-1", "hello, how can I help?"); err != nil {
		t.Fatalf("instructor reply error: %v", err)
	}

	if _, err := service.SendMessage(ctx, room.ID, "parent-1", "my child needs help with math"); err != nil {
		t.Fatalf("expected parent allowed after reply, got %v", err)
	}
}

func TestSendMessageContentValidation(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store)
	ctx := context.Background()

	room, err := service.GetOrCreateRoom(ctx, "academy-1", "parent-1", nil, false)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}

	if _, err := service.SendMessage(ctx, room.ID, "parent-1", "   "); !errors.Is(err, ErrInvalidContent) {
		t.Fatalf("expected blank content rejection, got %v", err)
	}
	if _, err := service.SendMessage(ctx, room.ID, "parent-1", strings.Repeat("a", maxContentLength+1)); !errors.Is(err, ErrInvalidContent) {
		t.Fatalf("expected oversized content rejection, got %v", err)
	}
	if _, err := service.SendMessage(ctx, room.ID, "parent-1", strings.Repeat("a", maxContentLength)); err != nil {
		t.Fatalf("expected max-length content accepted, got %v", err)
	}
}

func TestSendMessageTimestampFailureNonFatal(t *testing.T) {
	store := newFakeStore()
	store.touchErr = errors.New("boom")
	service := newTestService(store)
	ctx := context.Background()

	room, err := service.GetOrCreateRoom(ctx, "academy-1", "parent-1", nil, false)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	message, err := service.SendMessage(ctx, room.ID, "parent-1", "hello")
	if err != nil {
		t.Fatalf("expected send to survive timestamp failure, got %v", err)
	}
	if message.Content != "hello" {
		t.Fatalf("unexpected message %+v", message)
	}
}

func TestSendMessageUnknownRoom(t *testing.T) {
	service := newTestService(newFakeStore())
	if _, err := service.SendMessage(context.Background(), "missing", "parent-1", "hi"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected room not found, got %v", err)
	}
}

func TestOpenRoomMarksForeignMessagesRead(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store)
	ctx := context.Background()

	room, err := service.GetOrCreateRoom(ctx, "academy-1", "parent-1", nil, false)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if _, err := service.SendMessage(ctx, room.ID, "parent-1", "question"); err != nil {
		t.Fatalf("send error: %v", err)
	}
	if _, err := service.SendMessage(ctx, room.ID, "staff-1", "answer"); err != nil {
		t.Fatalf("send error: %v", err)
	}

	messages, err := service.OpenRoom(ctx, room.ID, "parent-1")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}

	stored, _ := store.ListMessages(ctx, room.ID)
	for _, message := range stored {
		foreign := message.SenderID != "parent-1"
		if foreign && !message.IsRead {
			t.Fatalf("expected foreign message %s marked read", message.ID)
		}
		if !foreign && message.IsRead {
			t.Fatalf("expected own message %s untouched", message.ID)
		}
	}
}

func TestMarkMessageReadScopedToRoom(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store)
	ctx := context.Background()

	roomA, err := service.GetOrCreateRoom(ctx, "academy-1", "parent-1", nil, false)
	if err != nil {
		t.Fatalf("create room A error: %v", err)
	}
	roomB, err := service.GetOrCreateRoom(ctx, "academy-2", "parent-2", nil, false)
	if err != nil {
		t.Fatalf("create room B error: %v", err)
	}
	foreign, err := service.SendMessage(ctx, roomB.ID, "parent-2", "private to room B")
	if err != nil {
		t.Fatalf("send error: %v", err)
	}

	// A receipt issued under room A's scope must not touch room B's
	// message.
	if err := service.MarkMessageRead(ctx, foreign.ID, roomA.ID, "parent-1"); err != nil {
		t.Fatalf("mark read error: %v", err)
	}
	messages, _ := store.ListMessages(ctx, roomB.ID)
	if messages[0].IsRead {
		t.Fatalf("expected message %s to stay unread outside its room", foreign.ID)
	}

	if err := service.MarkMessageRead(ctx, foreign.ID, roomB.ID, "staff-1"); err != nil {
		t.Fatalf("mark read error: %v", err)
	}
	messages, _ = store.ListMessages(ctx, roomB.ID)
	if !messages[0].IsRead {
		t.Fatalf("expected message %s read within its own room", foreign.ID)
	}
}

func TestUnreadCountByRole(t *testing.T) {
	store := newFakeStore()
	store.roles["parent-1"] = RoleParent
	store.roles["owner-1"] = RoleAdmin
	store.members["academy-1/owner-1"] = model.AcademyMember{
		AcademyID: "academy-1", UserID: "owner-1",
		MemberRole: MemberOwner, Approved: true,
	}
	service := newTestService(store)
	ctx := context.Background()

	room, err := service.GetOrCreateRoom(ctx, "academy-1", "parent-1", nil, false)
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if _, err := service.SendMessage(ctx, room.ID, "parent-1", "anyone there?"); err != nil {
		t.Fatalf("send error: %v", err)
	}

	parentCount, err := service.UnreadCount(ctx, "parent-1")
	if err != nil {
		t.Fatalf("parent unread error: %v", err)
	}
	if parentCount != 0 {
		t.Fatalf("expected parent to not count own message, got %d", parentCount)
	}

	ownerCount, err := service.UnreadCount(ctx, "owner-1")
	if err != nil {
		t.Fatalf("owner unread error: %v", err)
	}
	if ownerCount != 1 {
		t.Fatalf("expected owner to see 1 unread, got %d", ownerCount)
	}
}
