package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestFromCtx(t *testing.T) {
	l := Discard()
	ctx := WithCtx(context.Background(), l)
	assert.Same(t, l, FromCtx(ctx))
	assert.NotNil(t, FromCtx(context.Background()))
}
