package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		env, level string
		wantErr    bool
	}{
		{"local", "", false},
		{"prod", "warn", false},
		{"test", "", false},
		{"dev", "verbose", true},
		{"staging", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.env+"/"+tt.level, func(t *testing.T) {
			l, err := NewLogger(tt.env, tt.level)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewLogger(%q, %q) error = %v, wantErr %v", tt.env, tt.level, err, tt.wantErr)
			}
			if err == nil && l == nil {
				t.Fatal("expected a logger")
			}
		})
	}
}

func TestNewLogger_LevelOverride(t *testing.T) {
	l, err := NewLogger("prod", "error")
	if err != nil {
		t.Fatal(err)
	}
	if l.Core().Enabled(zap.InfoLevel) {
		t.Error("info must be disabled at error level")
	}
}

func TestFromContext_Default(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected a nop logger")
	}
}

func TestWithRequest(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx, l := WithRequest(context.Background(), zap.New(core), "req-1", zap.String("command", "seed"))

	if FromContext(ctx) != l {
		t.Fatal("context must carry the request logger")
	}
	l.Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-1" || fields["command"] != "seed" {
		t.Errorf("unexpected fields: %v", fields)
	}
}
