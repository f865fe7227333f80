package passphrase

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testEnvVar = "MINTFORGE_TEST_PASSPHRASE"

func TestGetReadsEnvironment(t *testing.T) {
	t.Setenv(testEnvVar, "open sesame")

	value, err := NewSource(testEnvVar).Get()
	if err != nil {
		t.Fatalf("get passphrase: %v", err)
	}
	if value != "open sesame" {
		t.Fatalf("unexpected passphrase %q", value)
	}
}

func TestGetRejectsBlankEnvironment(t *testing.T) {
	t.Setenv(testEnvVar, "   ")

	if _, err := NewSource(testEnvVar).Get(); err == nil {
		t.Fatal("expected error for blank passphrase")
	}
}

func TestGetReadsSecretFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("from-a-file\n"), 0o600); err != nil {
		t.Fatalf("write secret file: %v", err)
	}
	t.Setenv(testEnvVar+fileSuffix, path)

	value, err := NewSource(testEnvVar).Get()
	if err != nil {
		t.Fatalf("get passphrase: %v", err)
	}
	if value != "from-a-file" {
		t.Fatalf("unexpected passphrase %q", value)
	}
}

func TestGetUsesFirstLineOfSecretFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("line one\nline two\n"), 0o600); err != nil {
		t.Fatalf("write secret file: %v", err)
	}
	t.Setenv(testEnvVar+fileSuffix, path)

	value, err := NewSource(testEnvVar).Get()
	if err != nil {
		t.Fatalf("get passphrase: %v", err)
	}
	if value != "line one" {
		t.Fatalf("unexpected passphrase %q", value)
	}
}

func TestGetPrefersEnvironmentOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("file value\n"), 0o600); err != nil {
		t.Fatalf("write secret file: %v", err)
	}
	t.Setenv(testEnvVar, "env value")
	t.Setenv(testEnvVar+fileSuffix, path)

	value, err := NewSource(testEnvVar).Get()
	if err != nil {
		t.Fatalf("get passphrase: %v", err)
	}
	if value != "env value" {
		t.Fatalf("unexpected passphrase %q", value)
	}
}

func TestGetRejectsEmptySecretFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("\n"), 0o600); err != nil {
		t.Fatalf("write secret file: %v", err)
	}
	t.Setenv(testEnvVar+fileSuffix, path)

	if _, err := NewSource(testEnvVar).Get(); err == nil {
		t.Fatal("expected error for empty secret file")
	}
}

func TestGetFailsWithoutTerminal(t *testing.T) {
	// Test binaries run without a tty, so an unset variable must fail
	// instead of hanging on a prompt.
	t.Setenv(testEnvVar, "")
	os.Unsetenv(testEnvVar)
	t.Setenv(testEnvVar+fileSuffix, "")
	os.Unsetenv(testEnvVar + fileSuffix)

	_, err := NewSource(testEnvVar).Get()
	if err == nil {
		t.Fatal("expected error without environment or terminal")
	}
	if !strings.Contains(err.Error(), testEnvVar) {
		t.Fatalf("error should name the variable to set: %v", err)
	}
}

func TestGetCachesFirstResult(t *testing.T) {
	t.Setenv(testEnvVar, "first")
	src := NewSource(testEnvVar)
	if _, err := src.Get(); err != nil {
		t.Fatalf("get passphrase: %v", err)
	}

	t.Setenv(testEnvVar, "second")
	value, err := src.Get()
	if err != nil {
		t.Fatalf("get passphrase: %v", err)
	}
	if value != "first" {
		t.Fatalf("cached value changed: %q", value)
	}
}
