package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func TestRunWithoutInputReturnsUsage(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := run(context.Background(), logger, options{pick: "h1", watch: true})
	if !errors.Is(err, errUsage) {
		t.Fatalf("err = %v, want errUsage", err)
	}
}
