package waclient

import (
	"strings"
	"testing"

	"go.mau.fi/whatsmeow"

	"wabridge/internal/ports"
	"wabridge/platform/logger"
)

func TestDataURLEncodesPNG(t *testing.T) {
	renderer := NewQRRenderer(false, logger.New(logger.TestConfig()))

	out := renderer.DataURL("2@abcdefghij,klmnopqrst,uvwxyz")
	if !strings.HasPrefix(out, "data:image/png;base64,") {
		t.Fatalf("expected PNG data URL, got %q", out)
	}
}

func TestDataURLEmptyPayload(t *testing.T) {
	renderer := NewQRRenderer(false, logger.New(logger.TestConfig()))

	if out := renderer.DataURL(""); out != "" {
		t.Fatalf("expected empty output for empty payload, got %q", out)
	}
}

func TestUploadKindMapping(t *testing.T) {
	cases := []struct {
		kind ports.MediaKind
		want whatsmeow.MediaType
	}{
		{ports.MediaImage, whatsmeow.MediaImage},
		{ports.MediaVideo, whatsmeow.MediaVideo},
		{ports.MediaAudio, whatsmeow.MediaAudio},
		{ports.MediaDocument, whatsmeow.MediaDocument},
		{ports.MediaKind("unknown"), whatsmeow.MediaImage},
	}
	for _, tc := range cases {
		if got := uploadKind(tc.kind); got != tc.want {
			t.Errorf("uploadKind(%s) = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestBuildMediaMessageDefaults(t *testing.T) {
	uploaded := whatsmeow.UploadResponse{URL: "https://cdn.example/file"}

	image := buildMediaMessage(ports.MediaPayload{Kind: ports.MediaImage, Caption: "pic"}, uploaded)
	if image.ImageMessage == nil {
		t.Fatal("expected image message")
	}
	if image.ImageMessage.GetMimetype() != "image/jpeg" {
		t.Fatalf("image mimetype = %q", image.ImageMessage.GetMimetype())
	}
	if image.ImageMessage.GetCaption() != "pic" {
		t.Fatalf("image caption = %q", image.ImageMessage.GetCaption())
	}

	doc := buildMediaMessage(ports.MediaPayload{Kind: ports.MediaDocument}, uploaded)
	if doc.DocumentMessage == nil {
		t.Fatal("expected document message")
	}
	if doc.DocumentMessage.GetFileName() != "document" {
		t.Fatalf("document filename = %q", doc.DocumentMessage.GetFileName())
	}
	if doc.DocumentMessage.GetMimetype() != "application/octet-stream" {
		t.Fatalf("document mimetype = %q", doc.DocumentMessage.GetMimetype())
	}

	audio := buildMediaMessage(ports.MediaPayload{Kind: ports.MediaAudio}, uploaded)
	if audio.AudioMessage == nil {
		t.Fatal("expected audio message")
	}
	if audio.AudioMessage.GetMimetype() != "audio/ogg; codecs=opus" {
		t.Fatalf("audio mimetype = %q", audio.AudioMessage.GetMimetype())
	}
}
