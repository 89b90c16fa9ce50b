package model

import "time"

type User struct {
	ID          string
	Email       string
	Phone       string
	FirebaseUID string
	Role        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Academy struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
}

type AcademyMember struct {
	ID         string
	AcademyID  string
	UserID     string
	MemberRole string
	RoleLabel  string
	Approved   bool
	CreatedAt  time.Time
}

type ChatRoom struct {
	ID            string
	AcademyID     string
	ParentID      string
	StaffID       *string
	LastMessageAt time.Time
	CreatedAt     time.Time
}

type Message struct {
	ID         string
	ChatRoomID string
	SenderID   string
	Content    string
	IsRead     bool
	CreatedAt  time.Time
}

type RefreshSession struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
	UserAgent *string
	IPAddress *string
}
