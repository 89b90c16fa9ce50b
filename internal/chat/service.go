package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"hakwon/consult/internal/model"
	"hakwon/consult/internal/realtime"
)

const maxContentLength = 5000

// InitialRequestMessage is inserted on the parent's behalf when a room
// pinned to a staff member requires an explicit acceptance step.
const InitialRequestMessage = "Consultation requested."

var (
	ErrInvalidContent = errors.New("chat: invalid message content")
	ErrNotAllowed     = errors.New("chat: sending not allowed")
	ErrRoomNotFound   = errors.New("chat: room not found")
)

// Store is the subset of the repository the chat service needs.
type Store interface {
	GetRoom(ctx context.Context, roomID string) (model.ChatRoom, error)
	GetRoomByKey(ctx context.Context, academyID, parentID string, staffID *string) (model.ChatRoom, error)
	CreateRoom(ctx context.Context, room model.ChatRoom) error
	TouchRoom(ctx context.Context, roomID string, at time.Time) error
	ListRoomsForParent(ctx context.Context, userID string) ([]model.ChatRoom, error)
	ListRoomsForStaff(ctx context.Context, userID string) ([]model.ChatRoom, error)
	CreateMessage(ctx context.Context, message model.Message) error
	ListMessages(ctx context.Context, roomID string) ([]model.Message, error)
	MarkRoomMessagesRead(ctx context.Context, roomID, readerID string) error
	MarkMessageRead(ctx context.Context, messageID, roomID, readerID string) error
	UnreadCountForParent(ctx context.Context, userID string) (int64, error)
	UnreadCountForStaff(ctx context.Context, userID string) (int64, error)
	GetUserRole(ctx context.Context, userID string) (string, error)
	GetAcademyMember(ctx context.Context, academyID, userID string) (model.AcademyMember, error)
}

type Service struct {
	store           Store
	hub             *realtime.Hub
	instructorLabel string
}

func NewService(store Store, hub *realtime.Hub, instructorLabel string) *Service {
	return &Service{store: store, hub: hub, instructorLabel: instructorLabel}
}

// GetOrCreateRoom returns the room for (academy, parent, staff),
// creating it on first contact. A lost creation race resolves to the
// winner's row via the unique room key. When the new room targets a
// staff member and requiresAcceptance is set, the initial request
// message is inserted on the parent's behalf.
func (s *Service) GetOrCreateRoom(ctx context.Context, academyID, parentID string, staffID *string, requiresAcceptance bool) (model.ChatRoom, error) {
	room, err := s.store.GetRoomByKey(ctx, academyID, parentID, staffID)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.ChatRoom{}, err
	}

	now := time.Now().UTC()
	room = model.ChatRoom{
		ID:            uuid.New().String(),
		AcademyID:     academyID,
		ParentID:      parentID,
		StaffID:       staffID,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	if err := s.store.CreateRoom(ctx, room); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return s.store.GetRoomByKey(ctx, academyID, parentID, staffID)
		}
		return model.ChatRoom{}, err
	}

	if staffID != nil && requiresAcceptance {
		message := model.Message{
			ID:         uuid.New().String(),
			ChatRoomID: room.ID,
			SenderID:   parentID,
			Content:    InitialRequestMessage,
			CreatedAt:  now,
		}
		if err := s.store.CreateMessage(ctx, message); err != nil {
			return model.ChatRoom{}, err
		}
		s.publishInsert(ctx, message)
	}
	return room, nil
}

// SendMessage validates content, evaluates the send gate and appends
// the message. The room timestamp bump is a separate statement; its
// failure only skews list ordering and is logged, not surfaced.
func (s *Service) SendMessage(ctx context.Context, roomID, senderID, content string) (model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > maxContentLength {
		return model.Message{}, ErrInvalidContent
	}

	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Message{}, ErrRoomNotFound
		}
		return model.Message{}, err
	}

	allowed, err := s.CanSend(ctx, room, senderID)
	if err != nil {
		return model.Message{}, err
	}
	if !allowed {
		return model.Message{}, ErrNotAllowed
	}

	now := time.Now().UTC()
	message := model.Message{
		ID:         uuid.New().String(),
		ChatRoomID: room.ID,
		SenderID:   senderID,
		Content:    content,
		CreatedAt:  now,
	}
	if err := s.store.CreateMessage(ctx, message); err != nil {
		return model.Message{}, err
	}
	if err := s.store.TouchRoom(ctx, room.ID, now); err != nil {
		log.Printf("chat: room %s timestamp update failed: %v", room.ID, err)
	}
	s.publishInsert(ctx, message)
	return message, nil
}

// CanSend assembles the gate input from live state. Role and membership
// lookups that find nothing degrade to the unprivileged default.
func (s *Service) CanSend(ctx context.Context, room model.ChatRoom, userID string) (bool, error) {
	role, err := s.store.GetUserRole(ctx, userID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}

	memberRole := ""
	member, err := s.store.GetAcademyMember(ctx, room.AcademyID, userID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}
	if err == nil && member.Approved {
		memberRole = member.MemberRole
	}

	staffLabel := ""
	if room.StaffID != nil {
		staffMember, err := s.store.GetAcademyMember(ctx, room.AcademyID, *room.StaffID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return false, err
		}
		if err == nil {
			staffLabel = staffMember.RoleLabel
		}
	}

	messages, err := s.store.ListMessages(ctx, room.ID)
	if err != nil {
		return false, err
	}

	return Allowed(GateInput{
		UserID:         userID,
		UserRole:       role,
		RoomParentID:   room.ParentID,
		RoomStaffID:    room.StaffID,
		MemberRole:     memberRole,
		StaffRoleLabel: staffLabel,
		Messages:       messages,
	}, s.instructorLabel), nil
}

// OpenRoom serves the full ordered history and bulk-marks foreign
// messages as read. A failed read update degrades: history is still
// served.
func (s *Service) OpenRoom(ctx context.Context, roomID, userID string) ([]model.Message, error) {
	messages, err := s.store.ListMessages(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.store.MarkRoomMessagesRead(ctx, roomID, userID); err != nil {
		log.Printf("chat: mark read failed for room %s: %v", roomID, err)
		return messages, nil
	}
	s.hub.Publish(ctx, realtime.Event{Kind: realtime.KindUpdate, RoomID: roomID})
	return messages, nil
}

// History serves the full ordered history without touching read state.
func (s *Service) History(ctx context.Context, roomID string) ([]model.Message, error) {
	return s.store.ListMessages(ctx, roomID)
}

// MarkMessageRead is the single-message read receipt used by the
// realtime path. The update carries the room id so a receipt can only
// touch messages in the room the caller was admitted to.
func (s *Service) MarkMessageRead(ctx context.Context, messageID, roomID, userID string) error {
	if err := s.store.MarkMessageRead(ctx, messageID, roomID, userID); err != nil {
		return err
	}
	s.hub.Publish(ctx, realtime.Event{Kind: realtime.KindUpdate, RoomID: roomID})
	return nil
}

// UnreadCount rescans all rooms the user participates in. Coarse by
// intent: recomputed from scratch on every message-table event.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	role, err := s.store.GetUserRole(ctx, userID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	if role == RoleAdmin {
		return s.store.UnreadCountForStaff(ctx, userID)
	}
	return s.store.UnreadCountForParent(ctx, userID)
}

func (s *Service) ListRooms(ctx context.Context, userID string) ([]model.ChatRoom, error) {
	role, err := s.store.GetUserRole(ctx, userID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if role == RoleAdmin {
		return s.store.ListRoomsForStaff(ctx, userID)
	}
	return s.store.ListRoomsForParent(ctx, userID)
}

func (s *Service) GetRoom(ctx context.Context, roomID string) (model.ChatRoom, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ChatRoom{}, ErrRoomNotFound
		}
		return model.ChatRoom{}, err
	}
	return room, nil
}

// IsParticipant reports whether the user belongs in the room: the
// parent, the pinned staff member, or any approved member of the
// room's academy.
func (s *Service) IsParticipant(ctx context.Context, room model.ChatRoom, userID string) (bool, error) {
	if room.ParentID == userID {
		return true, nil
	}
	if room.StaffID != nil && *room.StaffID == userID {
		return true, nil
	}
	member, err := s.store.GetAcademyMember(ctx, room.AcademyID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return member.Approved, nil
}

func (s *Service) publishInsert(ctx context.Context, message model.Message) {
	s.hub.Publish(ctx, realtime.Event{
		Kind:   realtime.KindInsert,
		RoomID: message.ChatRoomID,
		Message: &realtime.MessagePayload{
			ID:        message.ID,
			RoomID:    message.ChatRoomID,
			SenderID:  message.SenderID,
			Content:   message.Content,
			IsRead:    message.IsRead,
			CreatedAt: message.CreatedAt.Unix(),
		},
	})
}
