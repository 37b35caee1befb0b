package types

import (
	"strings"
	"testing"
)

func TestIsValidUserID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"stu1", true},
		{"instructor_123", true},
		{"a-b", true},
		{strings.Repeat("a", 64), true},
		{"", false},
		{strings.Repeat("a", 65), false},
		{"has space", false},
		{"dot.ted", false},
		{"<script>", false},
	}

	for _, tt := range tests {
		if got := IsValidUserID(tt.id); got != tt.want {
			t.Errorf("IsValidUserID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestIsValidSessionID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"S1", true},
		{"cs101.2026-10-16", true},
		{"", false},
		{strings.Repeat("s", 65), false},
		{"a/b", false},
	}

	for _, tt := range tests {
		if got := IsValidSessionID(tt.id); got != tt.want {
			t.Errorf("IsValidSessionID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestOpenSessionRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     OpenSessionRequest
		wantErr error
	}{
		{"valid", OpenSessionRequest{SessionID: "S1", CourseID: "CS 101"}, nil},
		{"missing session", OpenSessionRequest{CourseID: "CS101"}, ErrInvalidSessionID},
		{"missing course", OpenSessionRequest{SessionID: "S1"}, ErrInvalidCourseID},
		{"course too long", OpenSessionRequest{SessionID: "S1", CourseID: strings.Repeat("c", 65)}, ErrInvalidCourseID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAttendanceMark_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mark    AttendanceMark
		wantErr error
	}{
		{"valid", AttendanceMark{SessionID: "S1", StudentID: "stu1", Status: StatusPresent, Method: "qr"}, nil},
		{"late", AttendanceMark{SessionID: "S1", StudentID: "stu1", Status: StatusLate}, nil},
		{"bad session", AttendanceMark{SessionID: "", StudentID: "stu1", Status: StatusPresent}, ErrInvalidSessionID},
		{"missing student", AttendanceMark{SessionID: "S1", Status: StatusPresent}, ErrMissingStudentID},
		{"bad student", AttendanceMark{SessionID: "S1", StudentID: "a b", Status: StatusPresent}, ErrInvalidUserID},
		{"bad status", AttendanceMark{SessionID: "S1", StudentID: "stu1", Status: "here"}, ErrInvalidStatus},
		{"long method", AttendanceMark{SessionID: "S1", StudentID: "stu1", Status: StatusAbsent, Method: strings.Repeat("m", 51)}, ErrInvalidMethod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.mark.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAttendanceMark_DefaultsMethod(t *testing.T) {
	mark := AttendanceMark{SessionID: "S1", StudentID: "stu1", Status: StatusPresent}
	if err := mark.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if mark.Method != DefaultMarkMethod {
		t.Errorf("Method = %q, want %q", mark.Method, DefaultMarkMethod)
	}
}

func TestAccount_Validate(t *testing.T) {
	tests := []struct {
		name    string
		account Account
		wantErr error
	}{
		{"valid", Account{ID: "fac1", Role: RoleFaculty, DisplayName: "Dr. Okafor"}, nil},
		{"bad id", Account{ID: "", Role: RoleFaculty, DisplayName: "x"}, ErrInvalidUserID},
		{"bad role", Account{ID: "fac1", Role: "dean", DisplayName: "x"}, ErrInvalidRole},
		{"empty name", Account{ID: "fac1", Role: RoleAdmin}, ErrInvalidDisplayName},
		{"long name", Account{ID: "fac1", Role: RoleAdmin, DisplayName: strings.Repeat("n", 201)}, ErrInvalidDisplayName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.account.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAccount_Identity(t *testing.T) {
	a := Account{ID: "stu1", Role: RoleStudent, DisplayName: "Ama", Active: true}
	id := a.Identity()
	if id.UserID != "stu1" || id.Role != RoleStudent || id.DisplayName != "Ama" {
		t.Errorf("Identity() = %+v", id)
	}
}
