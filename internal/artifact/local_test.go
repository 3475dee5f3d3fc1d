package artifact

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestUploadAndVerify(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir, "https://storage.test", []byte("artifact-key"))

	ref, err := store.Upload(context.Background(), []byte("deliverable body"), "deliverables/7/pi_1.pdf")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.Contains(ref, "sig=") || !strings.Contains(ref, "expires=") {
		t.Errorf("ref missing signature params: %q", ref)
	}

	local, err := store.VerifyRef(ref)
	if err != nil {
		t.Fatalf("VerifyRef: %v", err)
	}
	data, err := os.ReadFile(local)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	if string(data) != "deliverable body" {
		t.Errorf("artifact content = %q", data)
	}
}

func TestVerifyRefRejectsTamperedSignature(t *testing.T) {
	store := NewLocalStore(t.TempDir(), "https://storage.test", []byte("artifact-key"))
	ref, err := store.Upload(context.Background(), []byte("x"), "a/b.pdf")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	tampered := strings.Replace(ref, "sig=", "sig=ff", 1)
	if _, err := store.VerifyRef(tampered); err == nil {
		t.Fatal("tampered ref should not verify")
	}
}

func TestVerifyRefRejectsExpired(t *testing.T) {
	store := NewLocalStore(t.TempDir(), "https://storage.test", []byte("artifact-key"))
	ref, err := store.Upload(context.Background(), []byte("x"), "a/b.pdf")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	store.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	if _, err := store.VerifyRef(ref); err == nil {
		t.Fatal("expired ref should not verify")
	}
}

func TestUploadRejectsPathEscape(t *testing.T) {
	store := NewLocalStore(t.TempDir(), "https://storage.test", []byte("k"))
	if _, err := store.Upload(context.Background(), []byte("x"), "../../etc/passwd"); err == nil {
		t.Fatal("path escape should be rejected")
	}
}
