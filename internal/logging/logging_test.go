// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{" warn ", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tc := range tests {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "lifedash.log")

	l, err := New(Options{Level: "debug", File: path})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	l.ForConversation("conv-1").Warn("title generation failed", zap.String("reason", "timeout"))
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	line := string(data)
	for _, want := range []string{`"conversation_id":"conv-1"`, `"msg":"title generation failed"`, `"level":"warn"`} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %q", line, want)
		}
	}
}

func TestNew_NoSinksIsNop(t *testing.T) {
	l, err := New(Options{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if l.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("logger without sinks should discard everything")
	}
}

func TestSetGlobal_NilFallsBackToNop(t *testing.T) {
	prev := Global()
	defer SetGlobal(prev)

	SetGlobal(nil)
	if Global() == nil {
		t.Fatal("Global() returned nil")
	}
}
