package keylog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvVar, "")
	w, err := FromEnv()
	if err != nil || w != nil {
		t.Fatalf("unset variable: expected nil writer, got %v %v", w, err)
	}

	path := filepath.Join(t.TempDir(), "keys.log")
	t.Setenv(EnvVar, path)
	w, err = FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if _, err := w.Write([]byte("CLIENT_RANDOM aa bb\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "CLIENT_RANDOM aa bb\n" {
		t.Errorf("expected key line, got %q", data)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}
}
