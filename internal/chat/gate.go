package chat

import (
	"strings"

	"hakwon/consult/internal/model"
)

const (
	RoleParent  = "parent"
	RoleStudent = "student"
	RoleAdmin   = "admin"

	MemberOwner = "owner"
	MemberStaff = "staff"
)

// GateInput is everything the send-eligibility check looks at. It is
// assembled fresh for every evaluation; rule 2 depends on the live
// message list, so the result must never be cached.
type GateInput struct {
	UserID         string
	UserRole       string
	RoomParentID   string
	RoomStaffID    *string
	MemberRole     string
	StaffRoleLabel string
	Messages       []model.Message
}

// Allowed reports whether the user may post into the room right now.
// Rules are evaluated in order and the first applicable one wins;
// the default is allowed.
//
//  1. An academy owner in a staff-pinned room may only write when the
//     pinned staff member is the owner themselves. Keeps a single
//     responder per conversation.
//  2. A parent in a room pinned to an instructor may only write after
//     the instructor has replied at least once. The initiating request
//     message is authored by the parent during room creation, so a
//     purely parent-authored history means no reply yet.
func Allowed(in GateInput, instructorLabel string) bool {
	if in.UserRole == RoleAdmin && in.RoomStaffID != nil && in.MemberRole == MemberOwner {
		return *in.RoomStaffID == in.UserID
	}
	if in.UserRole == RoleParent && in.RoomStaffID != nil && labelDenotesInstructor(in.StaffRoleLabel, instructorLabel) {
		for _, message := range in.Messages {
			if message.SenderID != in.RoomParentID {
				return true
			}
		}
		return false
	}
	return true
}

func labelDenotesInstructor(label, instructorLabel string) bool {
	return strings.EqualFold(strings.TrimSpace(label), strings.TrimSpace(instructorLabel))
}
