package server

import "testing"

func TestMimeTypeForName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"photo.jpg", "image/jpeg"},
		{"photo.JPEG", "image/jpeg"},
		{"anim.gif", "image/gif"},
		{"modern.webp", "image/webp"},
		{"modern.avif", "image/avif"},
		{"clip.mp4", "video/mp4"},
		{"clip.MOV", "video/quicktime"},
		{"archive.zip", "application/octet-stream"},
		{"noext", "application/octet-stream"},
		{"", "application/octet-stream"},
	}

	for _, tt := range tests {
		if got := mimeTypeForName(tt.name); got != tt.want {
			t.Fatalf("mimeTypeForName(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestFileKind(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"image/png", "image"},
		{"video/mp4", "video"},
		{"video/webm", "video"},
		{"application/octet-stream", "image"},
	}

	for _, tt := range tests {
		if got := fileKind(tt.mime); got != tt.want {
			t.Fatalf("fileKind(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}
