package logger

import "testing"

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"":        LevelInfo,
		"info":    LevelInfo,
		"DEBUG":   LevelDebug,
		"trace":   LevelDebug,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestSetLevelGatesDebug(t *testing.T) {
	prev := Level(logLevel.Load())
	defer SetLevel(prev)

	SetLevel(LevelWarn)
	if enabled(LevelInfo) {
		t.Fatalf("info should be disabled at warn level")
	}
	if !enabled(LevelError) {
		t.Fatalf("error should be enabled at warn level")
	}
	SetLevel(LevelDebug)
	if !enabled(LevelDebug) {
		t.Fatalf("debug should be enabled at debug level")
	}
}
