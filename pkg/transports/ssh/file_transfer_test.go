package ssh

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestUploadFile(t *testing.T) {
	server := newTestSSHServer(t)
	client := connectedClient(t, testConfig(server))

	payload := bytes.Repeat([]byte("firmware-image"), 10_000)
	localPath := filepath.Join(t.TempDir(), "bmc.bin")
	if err := os.WriteFile(localPath, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	// The test server shares the local filesystem.
	remotePath := filepath.Join(t.TempDir(), "staging", "bmc.bin")

	res, err := client.UploadFile(context.Background(), localPath, remotePath, 0o600)
	if err != nil {
		t.Fatalf("UploadFile() error = %v", err)
	}

	sum := sha256.Sum256(payload)
	if res.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("checksum = %s", res.Checksum)
	}
	if res.BytesTransferred != int64(len(payload)) {
		t.Errorf("BytesTransferred = %d, want %d", res.BytesTransferred, len(payload))
	}

	got, err := os.ReadFile(remotePath)
	if err != nil {
		t.Fatalf("failed to read uploaded file: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("uploaded content differs")
	}
	info, err := os.Stat(remotePath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestUploadFile_MissingLocal(t *testing.T) {
	server := newTestSSHServer(t)
	client := connectedClient(t, testConfig(server))

	_, err := client.UploadFile(context.Background(), filepath.Join(t.TempDir(), "missing.bin"), "/tmp/x", 0)
	if err == nil {
		t.Fatal("expected error for missing local file")
	}
}

func TestUploadFile_Cancelled(t *testing.T) {
	server := newTestSSHServer(t)
	client := connectedClient(t, testConfig(server))

	localPath := filepath.Join(t.TempDir(), "nic.bin")
	if err := os.WriteFile(localPath, []byte("nic"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.UploadFile(ctx, localPath, filepath.Join(t.TempDir(), "nic.bin"), 0)
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestComputeChecksum(t *testing.T) {
	server := newTestSSHServer(t)
	client := connectedClient(t, testConfig(server))

	p := filepath.Join(t.TempDir(), "cpld.jed")
	if err := os.WriteFile(p, []byte("cpld"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := client.ComputeChecksum(context.Background(), p)
	if err != nil {
		t.Fatalf("ComputeChecksum() error = %v", err)
	}
	sum := sha256.Sum256([]byte("cpld"))
	if got != hex.EncodeToString(sum[:]) {
		t.Errorf("checksum = %s", got)
	}

	if _, err := client.ComputeChecksum(context.Background(), filepath.Join(t.TempDir(), "none")); err == nil {
		t.Error("expected error for missing remote file")
	}
}
