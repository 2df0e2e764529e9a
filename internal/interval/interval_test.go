package interval

import (
	"errors"
	"testing"
	"time"
)

func TestCheck(t *testing.T) {
	start := time.Date(2022, 7, 17, 13, 0, 0, 0, time.UTC)
	before := time.Date(2022, 7, 17, 9, 0, 0, 0, time.UTC)
	after := start.Add(time.Hour)

	if err := Check(start, nil); err != nil {
		t.Fatalf("open timer must be valid, got %v", err)
	}
	if err := Check(start, &after); err != nil {
		t.Fatalf("stop after start must be valid, got %v", err)
	}
	if err := Check(start, &start); err != nil {
		t.Fatalf("zero-length segment must be valid, got %v", err)
	}

	err := Check(start, &before)
	if err == nil {
		t.Fatalf("expected error for stop before start")
	}
	var ie *Error
	if !errors.As(err, &ie) {
		t.Fatalf("expected *interval.Error, got %T", err)
	}
	if ie.Field != "stop" {
		t.Fatalf("error must name the offending field, got %q", ie.Field)
	}
}
