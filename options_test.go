package livestore

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	ls, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if ls.Port() != 3001 {
		t.Errorf("Port() = %v, want %v", ls.Port(), 3001)
	}
	if ls.KeepaliveInterval() != 30*time.Second {
		t.Errorf("KeepaliveInterval() = %v, want %v", ls.KeepaliveInterval(), 30*time.Second)
	}
	if ls.queueSize != 64 {
		t.Errorf("queueSize = %v, want %v", ls.queueSize, 64)
	}
	if ls.writeTimeout != 5*time.Second {
		t.Errorf("writeTimeout = %v, want %v", ls.writeTimeout, 5*time.Second)
	}
	if got, want := ls.Resources(), []string{"permissions", "roles", "users"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Resources() = %v, want %v", got, want)
	}
	if ls.driver() != "memory" {
		t.Errorf("driver() = %q, want memory", ls.driver())
	}
	if ls.Addr() != nil {
		t.Errorf("Addr() = %v before Start, want nil", ls.Addr())
	}
}

func TestWithPort(t *testing.T) {
	ls, err := New(WithPort(9090))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if ls.Port() != 9090 {
		t.Errorf("Port() = %v, want %v", ls.Port(), 9090)
	}
}

func TestWithPort_Invalid(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"negative", -1},
		{"too high", 65536},
		{"way too high", 100000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(WithPort(tt.port))
			if err == nil {
				t.Errorf("New(WithPort(%d)) expected error, got nil", tt.port)
			}
		})
	}
}

func TestWithPort_ValidEdgeCases(t *testing.T) {
	for _, port := range []int{0, 1, 65535} {
		ls, err := New(WithPort(port))
		if err != nil {
			t.Errorf("New(WithPort(%d)) error = %v", port, err)
			continue
		}
		if ls.Port() != port {
			t.Errorf("Port() = %v, want %v", ls.Port(), port)
		}
	}
}

func TestWithKeepaliveInterval(t *testing.T) {
	ls, err := New(WithKeepaliveInterval(time.Minute))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if ls.KeepaliveInterval() != time.Minute {
		t.Errorf("KeepaliveInterval() = %v, want %v", ls.KeepaliveInterval(), time.Minute)
	}
}

func TestDurationOptions_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"zero keepalive", WithKeepaliveInterval(0)},
		{"negative keepalive", WithKeepaliveInterval(-time.Second)},
		{"zero write timeout", WithWriteTimeout(0)},
		{"negative write timeout", WithWriteTimeout(-time.Second)},
		{"zero queue", WithQueueSize(0)},
		{"negative queue", WithQueueSize(-3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opt); err == nil {
				t.Error("New() expected error, got nil")
			}
		})
	}
}

func TestNew_WriteTimeoutExceedsKeepalive(t *testing.T) {
	_, err := New(WithKeepaliveInterval(time.Second), WithWriteTimeout(2*time.Second))
	if err == nil {
		t.Fatal("New() expected error when write timeout exceeds keepalive interval")
	}
	if !strings.Contains(err.Error(), "keepalive interval") {
		t.Errorf("New() error = %v, want error mentioning keepalive interval", err)
	}
}

func TestWithQueueSize(t *testing.T) {
	ls, err := New(WithQueueSize(8))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if ls.queueSize != 8 {
		t.Errorf("queueSize = %v, want %v", ls.queueSize, 8)
	}
}

func TestWithSeed(t *testing.T) {
	ls, err := New(WithSeed(map[string][]map[string]any{
		"posts": {{"id": 1, "title": "hello"}},
	}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := ls.Resources(); !reflect.DeepEqual(got, []string{"posts"}) {
		t.Errorf("Resources() = %v, want [posts]", got)
	}
	if ls.seed["posts"][0]["title"] != "hello" {
		t.Errorf("seed record = %v", ls.seed["posts"][0])
	}
}

func TestWithSeed_EmptyName(t *testing.T) {
	if _, err := New(WithSeed(map[string][]map[string]any{"": nil})); err == nil {
		t.Error("New() expected error for empty resource name")
	}
}

func TestWithSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	if err := os.WriteFile(path, []byte(`{"posts":[{"id":1,"title":"hello"}],"tags":[]}`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	ls, err := New(WithSeedFile(path))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := ls.Resources(); !reflect.DeepEqual(got, []string{"posts", "tags"}) {
		t.Errorf("Resources() = %v, want [posts tags]", got)
	}
}

func TestWithSeedFile_Missing(t *testing.T) {
	_, err := New(WithSeedFile(filepath.Join(t.TempDir(), "nope.json")))
	if err == nil {
		t.Fatal("New() expected error for missing seed file")
	}
	if !strings.Contains(err.Error(), "nope.json") {
		t.Errorf("error = %v, want it to name the file", err)
	}
}

func TestWithResources(t *testing.T) {
	ls, err := New(WithResources("posts", "users"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	want := []string{"permissions", "posts", "roles", "users"}
	if got := ls.Resources(); !reflect.DeepEqual(got, want) {
		t.Errorf("Resources() = %v, want %v", got, want)
	}
	// declaring an existing resource keeps its records
	if len(ls.seed["users"]) != 2 {
		t.Errorf("len(users) = %d, want 2", len(ls.seed["users"]))
	}
	if len(ls.seed["posts"]) != 0 {
		t.Errorf("len(posts) = %d, want 0", len(ls.seed["posts"]))
	}
}

func TestWithResources_EmptyName(t *testing.T) {
	if _, err := New(WithResources("posts", "")); err == nil {
		t.Error("New() expected error for empty resource name")
	}
}

func TestWithPostgres(t *testing.T) {
	ls, err := New(WithPostgres("postgres://localhost/livestore"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if ls.driver() != "postgres" {
		t.Errorf("driver() = %q, want postgres", ls.driver())
	}

	if _, err := New(WithPostgres("")); err == nil {
		t.Error("New(WithPostgres(\"\")) expected error")
	}
}

func TestWithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ls, err := New(WithLogger(logger))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if ls.logger != logger {
		t.Error("logger was not set correctly")
	}
}

func TestWithLogger_Nil(t *testing.T) {
	_, err := New(WithLogger(nil))
	if err == nil {
		t.Error("New(WithLogger(nil)) expected error, got nil")
	}
	if err != nil && !strings.Contains(err.Error(), "logger cannot be nil") {
		t.Errorf("New(WithLogger(nil)) error = %v, want error containing 'logger cannot be nil'", err)
	}
}

func TestWithLogger_DefaultsToSlogDefault(t *testing.T) {
	ls, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if ls.logger != slog.Default() {
		t.Error("logger should default to slog.Default()")
	}
}
