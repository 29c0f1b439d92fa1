package server

import (
	"strings"
	"testing"
)

func TestObjectKey(t *testing.T) {
	s := &objectStore{bucket: "b"}

	if got := s.objectKey("alice", "photo.png"); got != "alice/photo.png" {
		t.Fatalf("objectKey = %q", got)
	}
	if got := s.objectKey("", "photo.png"); got != "photo.png" {
		t.Fatalf("objectKey without username = %q", got)
	}
}

func TestTimestampName(t *testing.T) {
	got := timestampName("holiday.JPG")
	if !strings.HasSuffix(got, ".JPG") {
		t.Fatalf("extension not kept: %q", got)
	}
	// 20060102-150405 stem plus the extension.
	if len(got) != len("20060102-150405")+len(".JPG") {
		t.Fatalf("unexpected name shape: %q", got)
	}

	if got := timestampName("noext"); strings.Contains(got, ".") {
		t.Fatalf("name without extension gained one: %q", got)
	}
}

func TestNewObjectStoreTrimsBaseURL(t *testing.T) {
	s := newObjectStore(nil, "b", "https://cdn.example.com/")
	if s.publicBaseURL != "https://cdn.example.com" {
		t.Fatalf("publicBaseURL = %q", s.publicBaseURL)
	}
}
