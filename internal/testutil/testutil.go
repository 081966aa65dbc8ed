// Package testutil holds small helpers shared by package tests.
package testutil

import (
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// ReceiveTimeout bounds how long Receive waits for a line.
const ReceiveTimeout = 2 * time.Second

// WriteFile writes content to name inside a per-test temporary directory
// and returns the full path.
func WriteFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// CopyFile copies src to dst, truncating dst if it exists.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Receive returns the next line from ch, failing the test if ch closes or
// nothing arrives within ReceiveTimeout.
func Receive(t testing.TB, ch <-chan string) string {
	t.Helper()
	select {
	case line, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed")
		}
		return line
	case <-time.After(ReceiveTimeout):
		t.Fatal("timed out waiting for line")
		return ""
	}
}

// AssertStatusCode reports a mismatched status along with the response body.
func AssertStatusCode(t testing.TB, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Errorf("status code = %d, want %d (body: %s)", w.Code, want, w.Body.String())
	}
}
