package config

import (
	"strings"
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	t.Setenv("MESSAGING_ENABLED", "false")
	t.Setenv("CACHE_ENABLED", "false")

	cfg, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if cfg.Messaging.Driver != "noop" {
		t.Fatalf("messaging driver: want=%q got=%q", "noop", cfg.Messaging.Driver)
	}
	if cfg.Cache.Driver != "noop" {
		t.Fatalf("cache driver: want=%q got=%q", "noop", cfg.Cache.Driver)
	}
	if cfg.Storage.Driver != "local" {
		t.Fatalf("storage driver: want=%q got=%q", "local", cfg.Storage.Driver)
	}
	if cfg.Notification.Driver != "log" {
		t.Fatalf("notification driver: want=%q got=%q", "log", cfg.Notification.Driver)
	}
	if cfg.Database.ReaderDSN != cfg.Database.WriterDSN {
		t.Fatalf("reader dsn should default to writer dsn")
	}
	if cfg.Dispatch.MaxAttempts != 0 {
		t.Fatalf("max attempts: want=0 got=%d", cfg.Dispatch.MaxAttempts)
	}
}

func TestNewClampsConcurrency(t *testing.T) {
	t.Setenv("MESSAGING_ENABLED", "false")
	t.Setenv("DISPATCH_CONCURRENCY", "-4")
	t.Setenv("BATCH_MATERIALIZE_CONCURRENCY", "0")
	t.Setenv("DISPATCH_ATTEMPT_TIMEOUT", "0s")
	t.Setenv("DISPATCH_MAX_ATTEMPTS", "-1")

	cfg, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if cfg.Dispatch.Concurrency != 1 {
		t.Fatalf("dispatch concurrency: want=1 got=%d", cfg.Dispatch.Concurrency)
	}
	if cfg.Batch.MaterializeConcurrency != 1 {
		t.Fatalf("materialize concurrency: want=1 got=%d", cfg.Batch.MaterializeConcurrency)
	}
	if cfg.Dispatch.AttemptTimeout != 15*time.Second {
		t.Fatalf("attempt timeout: want=15s got=%s", cfg.Dispatch.AttemptTimeout)
	}
	if cfg.Dispatch.MaxAttempts != 0 {
		t.Fatalf("max attempts: want=0 got=%d", cfg.Dispatch.MaxAttempts)
	}
}

func TestNewRejectsInvalidCombinations(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "gcs without bucket",
			env:  map[string]string{"STORAGE_DRIVER": "gcs", "STORAGE_GCS_BUCKET": ""},
			want: "STORAGE_GCS_BUCKET",
		},
		{
			name: "unknown storage",
			env:  map[string]string{"STORAGE_DRIVER": "ftp"},
			want: "unsupported storage driver",
		},
		{
			name: "sms without credentials",
			env:  map[string]string{"NOTIFY_DRIVER": "sms", "NOTIFY_SMS_ACCOUNT_SID": "", "NOTIFY_SMS_AUTH_TOKEN": ""},
			want: "NOTIFY_SMS_ACCOUNT_SID",
		},
		{
			name: "sms without sender",
			env:  map[string]string{"NOTIFY_DRIVER": "sms", "NOTIFY_SMS_ACCOUNT_SID": "AC1", "NOTIFY_SMS_AUTH_TOKEN": "tok", "NOTIFY_SMS_FROM": ""},
			want: "NOTIFY_SMS_FROM",
		},
		{
			name: "bad http port",
			env:  map[string]string{"HTTP_PORT": "0"},
			want: "invalid HTTP port",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("MESSAGING_ENABLED", "false")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := New()
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error: want substring %q got=%q", tc.want, err.Error())
			}
		})
	}
}

func TestTopicsAll(t *testing.T) {
	topics := Topics{OrderIngested: "a", OrderAllotted: "b"}
	got := topics.All()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("topics: want=[a b] got=%v", got)
	}
	if got := (Topics{OrderAllotted: "b"}).All(); len(got) != 1 {
		t.Fatalf("empty topics should be skipped: got=%v", got)
	}
}

func TestEnvHelpersFallBackOnParseErrors(t *testing.T) {
	t.Setenv("ALLOT_TEST_INT", "twelve")
	t.Setenv("ALLOT_TEST_DURATION", " 3s ")
	t.Setenv("ALLOT_TEST_SLICE", " , ,")

	if got := getEnvAsInt("ALLOT_TEST_INT", 7); got != 7 {
		t.Fatalf("int: want=7 got=%d", got)
	}
	if got := getEnvAsDuration("ALLOT_TEST_DURATION", time.Second); got != 3*time.Second {
		t.Fatalf("duration: want=3s got=%s", got)
	}
	if got := getEnvAsStringSlice("ALLOT_TEST_SLICE", []string{"x"}); len(got) != 1 || got[0] != "x" {
		t.Fatalf("slice: want=[x] got=%v", got)
	}
}
