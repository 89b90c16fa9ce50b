package chat

import (
	"testing"

	"hakwon/consult/internal/model"
)

func strPtr(s string) *string { return &s }

func TestOwnerReadOnlyInForeignStaffRoom(t *testing.T) {
	in := GateInput{
		UserID:       "owner-1",
		UserRole:     RoleAdmin,
		RoomParentID: "parent-1",
		RoomStaffID:  strPtr("staff-1"),
		MemberRole:   MemberOwner,
	}
	if Allowed(in, "instructor") {
		t.Fatalf("expected owner to be read-only in a room pinned to other staff")
	}

	in.RoomStaffID = strPtr("owner-1")
	if !Allowed(in, "instructor") {
		t.Fatalf("expected owner to write in their own pinned room")
	}
}

func TestParentBlockedUntilInstructorReplies(t *testing.T) {
	in := GateInput{
		UserID:         "parent-1",
		UserRole:       RoleParent,
		RoomParentID:   "parent-1",
		RoomStaffID:    strPtr("staff-1"),
		StaffRoleLabel: "Instructor",
		Messages: []model.Message{
			{ID: "m1", SenderID: "parent-1", Content: "Consultation requested."},
		},
	}
	if Allowed(in, "instructor") {
		t.Fatalf("expected parent to be blocked before any instructor reply")
	}

	in.Messages = append(in.Messages, model.Message{ID: "m2", SenderID: "staff-1", Content: "Hello"})
	if !Allowed(in, "instructor") {
		t.Fatalf("expected parent to be allowed after instructor reply")
	}
}

func TestParentAllowedInGenericRoom(t *testing.T) {
	in := GateInput{
		UserID:       "parent-1",
		UserRole:     RoleParent,
		RoomParentID: "parent-1",
	}
	if !Allowed(in, "instructor") {
		t.Fatalf("expected parent allowed in an unassigned room")
	}
}

func TestParentAllowedWhenStaffNotInstructor(t *testing.T) {
	in := GateInput{
		UserID:         "parent-1",
		UserRole:       RoleParent,
		RoomParentID:   "parent-1",
		RoomStaffID:    strPtr("staff-1"),
		StaffRoleLabel: "counselor",
	}
	if !Allowed(in, "instructor") {
		t.Fatalf("expected parent allowed when pinned staff is not an instructor")
	}
}

func TestNonOwnerAdminAllowed(t *testing.T) {
	in := GateInput{
		UserID:       "staff-2",
		UserRole:     RoleAdmin,
		RoomParentID: "parent-1",
		RoomStaffID:  strPtr("staff-1"),
		MemberRole:   MemberStaff,
	}
	if !Allowed(in, "instructor") {
		t.Fatalf("expected non-owner staff to fall through to default allow")
	}
}
