package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", RunID(ctx))
	assert.Equal(t, "", FnID(ctx))

	ctx = WithRunID(ctx, "run-1")
	ctx = WithFnID(ctx, "f")
	assert.Equal(t, "run-1", RunID(ctx))
	assert.Equal(t, "f", FnID(ctx))
}

func TestCorrelationHandler_InjectsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithFnID(WithRunID(context.Background(), "run-9"), "square")
	logger.InfoContext(ctx, "step done")

	out := buf.String()
	assert.Contains(t, out, `"run_id":"run-9"`)
	assert.Contains(t, out, `"fn_id":"square"`)
	assert.Contains(t, out, "step done")
}
