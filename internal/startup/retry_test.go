package startup

import (
	"errors"
	"testing"
)

func TestRetryReturnsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(0, "test", func() error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryGivesUpAfterDeadline(t *testing.T) {
	boom := errors.New("boom")
	err := Retry(0, "test", func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}
