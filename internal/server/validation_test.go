package server

import (
	"strings"
	"testing"
)

func TestValidationMessage(t *testing.T) {
	type form struct {
		Username string `validate:"required,min=3,max=32"`
		Email    string `validate:"omitempty,email"`
	}

	tests := []struct {
		name string
		in   form
		want string
	}{
		{"required", form{}, "required"},
		{"too short", form{Username: "ab"}, "too short"},
		{"too long", form{Username: strings.Repeat("x", 40)}, "too long"},
		{"bad email", form{Username: "alice", Email: "not-an-email"}, "email"},
	}

	for _, tt := range tests {
		err := validate.Struct(tt.in)
		if err == nil {
			t.Fatalf("%s: expected a validation error", tt.name)
		}
		if msg := validationMessage(err); !strings.Contains(msg, tt.want) {
			t.Fatalf("%s: message %q does not mention %q", tt.name, msg, tt.want)
		}
	}

	if err := validate.Struct(form{Username: "alice", Email: "a@example.com"}); err != nil {
		t.Fatalf("valid struct rejected: %v", err)
	}
}
