package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"classpulse/internal/auth"
)

const testSecret = "classpulse-main-test-secret-0123456789"

func TestRun_IssueToken(t *testing.T) {
	t.Setenv("CLASSPULSE_AUTH_JWT_SECRET", testSecret)

	var out bytes.Buffer
	if err := run([]string{"-issue-token", "alice", "-role", "instructor"}, &out); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	token := strings.TrimSpace(out.String())
	verifier, err := auth.NewJWTVerifier(testSecret, "", "")
	if err != nil {
		t.Fatalf("NewJWTVerifier failed: %v", err)
	}
	identity := verifier.Verify(token)
	if identity == nil {
		t.Fatalf("Issued token did not verify: %q", token)
	}
	if identity.UserID != "alice" || identity.Role != "instructor" {
		t.Errorf("Unexpected identity %+v", identity)
	}
}

// The config file named in the environment is used when -config is absent
func TestRun_ConfigFileFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classpulse.yaml")
	if err := os.WriteFile(path, []byte("auth:\n  jwt_secret: "+testSecret+"\n"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	t.Setenv("CLASSPULSE_CONFIG_FILE", path)
	t.Setenv("CLASSPULSE_AUTH_JWT_SECRET", "")
	os.Unsetenv("CLASSPULSE_AUTH_JWT_SECRET")

	var out bytes.Buffer
	if err := run([]string{"-issue-token", "bob"}, &out); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	verifier, err := auth.NewJWTVerifier(testSecret, "", "")
	if err != nil {
		t.Fatalf("NewJWTVerifier failed: %v", err)
	}
	if identity := verifier.Verify(strings.TrimSpace(out.String())); identity == nil || identity.UserID != "bob" {
		t.Errorf("Expected a token signed with the file's secret, got %+v", identity)
	}
}

func TestRun_RejectsInvalidConfiguration(t *testing.T) {
	// No JWT secret configured
	t.Setenv("CLASSPULSE_AUTH_JWT_SECRET", "")

	if err := run(nil, &bytes.Buffer{}); err == nil {
		t.Fatal("Expected configuration error without a JWT secret")
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	if err := run([]string{"-no-such-flag"}, &bytes.Buffer{}); err == nil {
		t.Fatal("Expected flag parse error")
	}
}
