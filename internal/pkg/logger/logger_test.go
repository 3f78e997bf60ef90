package logger

import "testing"

func TestSanitizeKVsRedactsSecrets(t *testing.T) {
	got := sanitizeKVs([]interface{}{
		"redis_password", "hunter2",
		"postgres_dsn", "postgres://vitruvius:s3cret@db:5432/vitruvius",
		"project_id", "p-1",
	})
	if got[1] != "[REDACTED]" {
		t.Fatalf("password: want=%q got=%v", "[REDACTED]", got[1])
	}
	if got[3] != "postgres://vitruvius:REDACTED@db:5432/vitruvius" {
		t.Fatalf("dsn: want redacted userinfo got=%v", got[3])
	}
	if got[5] != "p-1" {
		t.Fatalf("project_id: want=%q got=%v", "p-1", got[5])
	}
}

func TestSanitizeKVsOddLength(t *testing.T) {
	got := sanitizeKVs([]interface{}{"file_hash", "abc", "dangling"})
	if len(got) != 3 || got[2] != "dangling" {
		t.Fatalf("want dangling key preserved, got=%v", got)
	}
}

func TestNewLevels(t *testing.T) {
	for _, mode := range []string{"development", "production"} {
		log, err := New(mode, "info")
		if err != nil {
			t.Fatalf("New(%q): %v", mode, err)
		}
		log.With("component", "test").Debug("suppressed at info level")
	}
}
