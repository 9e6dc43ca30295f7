package tracing_test

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/notifyhub/collab-notify/internal/tracing"
)

func TestInit_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := tracing.Init(context.Background(), "collab-notify", "", zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	shutdown()
}
