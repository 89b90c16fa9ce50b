package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hakwon/consult/internal/model"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Users

func (s *Store) CreateUser(ctx context.Context, user model.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, phone, firebase_uid, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.Email, user.Phone, user.FirebaseUID, user.Role, user.CreatedAt, user.UpdatedAt)
	return err
}

func (s *Store) GetUserByPhone(ctx context.Context, phone string) (model.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx, `
		SELECT id, email, phone, firebase_uid, role, created_at, updated_at
		FROM users
		WHERE phone = $1
	`, phone))
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (model.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx, `
		SELECT id, email, phone, firebase_uid, role, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID))
}

func (s *Store) scanUser(row pgx.Row) (model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Phone,
		&user.FirebaseUID,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}

func (s *Store) UpsertUserRole(ctx context.Context, userID, role string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_roles (user_id, role)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET role = EXCLUDED.role
	`, userID, role)
	return err
}

func (s *Store) GetUserRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := s.pool.QueryRow(ctx, `SELECT role FROM user_roles WHERE user_id = $1`, userID).Scan(&role)
	return role, err
}

// Academies

func (s *Store) CreateAcademy(ctx context.Context, academy model.Academy) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO academies (id, name, owner_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, academy.ID, academy.Name, academy.OwnerID, academy.CreatedAt)
	return err
}

func (s *Store) GetAcademy(ctx context.Context, academyID string) (model.Academy, error) {
	var academy model.Academy
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, owner_id, created_at
		FROM academies
		WHERE id = $1
	`, academyID).Scan(&academy.ID, &academy.Name, &academy.OwnerID, &academy.CreatedAt)
	return academy, err
}

func (s *Store) ListAcademies(ctx context.Context) ([]model.Academy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, owner_id, created_at
		FROM academies
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var academies []model.Academy
	for rows.Next() {
		var academy model.Academy
		if err := rows.Scan(&academy.ID, &academy.Name, &academy.OwnerID, &academy.CreatedAt); err != nil {
			return nil, err
		}
		academies = append(academies, academy)
	}
	return academies, rows.Err()
}

func (s *Store) CreateAcademyMember(ctx context.Context, member model.AcademyMember) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO academy_members (id, academy_id, user_id, member_role, role_label, approved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (academy_id, user_id) DO UPDATE
		SET member_role = EXCLUDED.member_role,
		    role_label = EXCLUDED.role_label,
		    approved = EXCLUDED.approved
	`, member.ID, member.AcademyID, member.UserID, member.MemberRole, member.RoleLabel, member.Approved, member.CreatedAt)
	return err
}

func (s *Store) GetAcademyMember(ctx context.Context, academyID, userID string) (model.AcademyMember, error) {
	var member model.AcademyMember
	err := s.pool.QueryRow(ctx, `
		SELECT id, academy_id, user_id, member_role, role_label, approved, created_at
		FROM academy_members
		WHERE academy_id = $1 AND user_id = $2
	`, academyID, userID).Scan(
		&member.ID,
		&member.AcademyID,
		&member.UserID,
		&member.MemberRole,
		&member.RoleLabel,
		&member.Approved,
		&member.CreatedAt,
	)
	return member, err
}

// Chat rooms

const roomColumns = `id, academy_id, parent_id, staff_id, last_message_at, created_at`

func (s *Store) CreateRoom(ctx context.Context, room model.ChatRoom) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_rooms (id, academy_id, parent_id, staff_id, last_message_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, room.ID, room.AcademyID, room.ParentID, room.StaffID, room.LastMessageAt, room.CreatedAt)
	return err
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (model.ChatRoom, error) {
	return s.scanRoom(s.pool.QueryRow(ctx, `
		SELECT `+roomColumns+`
		FROM chat_rooms
		WHERE id = $1
	`, roomID))
}

// GetRoomByKey treats a nil staff id as its own key: a room pinned to a
// staff member and the generic academy room are distinct rows.
func (s *Store) GetRoomByKey(ctx context.Context, academyID, parentID string, staffID *string) (model.ChatRoom, error) {
	if staffID == nil {
		return s.scanRoom(s.pool.QueryRow(ctx, `
			SELECT `+roomColumns+`
			FROM chat_rooms
			WHERE academy_id = $1 AND parent_id = $2 AND staff_id IS NULL
		`, academyID, parentID))
	}
	return s.scanRoom(s.pool.QueryRow(ctx, `
		SELECT `+roomColumns+`
		FROM chat_rooms
		WHERE academy_id = $1 AND parent_id = $2 AND staff_id = $3
	`, academyID, parentID, *staffID))
}

func (s *Store) ListRoomsForParent(ctx context.Context, userID string) ([]model.ChatRoom, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+roomColumns+`
		FROM chat_rooms
		WHERE parent_id = $1
		ORDER BY last_message_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return s.collectRooms(rows)
}

func (s *Store) ListRoomsForStaff(ctx context.Context, userID string) ([]model.ChatRoom, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.academy_id, r.parent_id, r.staff_id, r.last_message_at, r.created_at
		FROM chat_rooms r
		JOIN academy_members am ON am.academy_id = r.academy_id
		WHERE am.user_id = $1 AND am.approved = true
		ORDER BY r.last_message_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return s.collectRooms(rows)
}

func (s *Store) TouchRoom(ctx context.Context, roomID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE chat_rooms SET last_message_at = $1 WHERE id = $2`, at, roomID)
	return err
}

func (s *Store) scanRoom(row pgx.Row) (model.ChatRoom, error) {
	var room model.ChatRoom
	err := row.Scan(
		&room.ID,
		&room.AcademyID,
		&room.ParentID,
		&room.StaffID,
		&room.LastMessageAt,
		&room.CreatedAt,
	)
	return room, err
}

func (s *Store) collectRooms(rows pgx.Rows) ([]model.ChatRoom, error) {
	defer rows.Close()
	var rooms []model.ChatRoom
	for rows.Next() {
		var room model.ChatRoom
		if err := rows.Scan(
			&room.ID,
			&room.AcademyID,
			&room.ParentID,
			&room.StaffID,
			&room.LastMessageAt,
			&room.CreatedAt,
		); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// Messages

func (s *Store) CreateMessage(ctx context.Context, message model.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_messages (id, chat_room_id, sender_id, content, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, message.ID, message.ChatRoomID, message.SenderID, message.Content, message.IsRead, message.CreatedAt)
	return err
}

func (s *Store) ListMessages(ctx context.Context, roomID string) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, chat_room_id, sender_id, content, is_read, created_at
		FROM chat_messages
		WHERE chat_room_id = $1
		ORDER BY created_at
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var message model.Message
		if err := rows.Scan(
			&message.ID,
			&message.ChatRoomID,
			&message.SenderID,
			&message.Content,
			&message.IsRead,
			&message.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, rows.Err()
}

// MarkRoomMessagesRead flags everything the reader did not author.
func (s *Store) MarkRoomMessagesRead(ctx context.Context, roomID, readerID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE chat_messages
		SET is_read = true
		WHERE chat_room_id = $1 AND sender_id <> $2 AND is_read = false
	`, roomID, readerID)
	return err
}

// MarkMessageRead is scoped to the room the caller was checked
// against; a message id from another room does not match.
func (s *Store) MarkMessageRead(ctx context.Context, messageID, roomID, readerID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE chat_messages
		SET is_read = true
		WHERE id = $1 AND chat_room_id = $2 AND sender_id <> $3
	`, messageID, roomID, readerID)
	return err
}

func (s *Store) UnreadCountForParent(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM chat_messages m
		JOIN chat_rooms r ON r.id = m.chat_room_id
		WHERE r.parent_id = $1 AND m.is_read = false AND m.sender_id <> $1
	`, userID).Scan(&count)
	return count, err
}

func (s *Store) UnreadCountForStaff(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM chat_messages m
		JOIN chat_rooms r ON r.id = m.chat_room_id
		JOIN academy_members am ON am.academy_id = r.academy_id
		WHERE am.user_id = $1 AND am.approved = true
		  AND m.is_read = false AND m.sender_id <> $1
	`, userID).Scan(&count)
	return count, err
}

// Refresh sessions

func (s *Store) CreateRefreshSession(ctx context.Context, session model.RefreshSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_token_sessions (id, user_id, token_hash, created_at, expires_at, revoked_at, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, session.ID, session.UserID, session.TokenHash, session.CreatedAt, session.ExpiresAt, session.RevokedAt, session.UserAgent, session.IPAddress)
	return err
}

func (s *Store) GetRefreshSession(ctx context.Context, tokenHash string) (model.RefreshSession, error) {
	var session model.RefreshSession
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, created_at, expires_at, revoked_at, user_agent, ip_address
		FROM refresh_token_sessions
		WHERE token_hash = $1
	`, tokenHash)
	err := row.Scan(&session.ID, &session.UserID, &session.TokenHash, &session.CreatedAt, &session.ExpiresAt, &session.RevokedAt, &session.UserAgent, &session.IPAddress)
	return session, err
}

func (s *Store) RevokeRefreshSession(ctx context.Context, sessionID string, revokedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE refresh_token_sessions SET revoked_at = $1 WHERE id = $2`, revokedAt, sessionID)
	return err
}
