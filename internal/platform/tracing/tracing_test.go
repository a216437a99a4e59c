package tracing

import (
	"context"
	"testing"
)

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(context.Background(), Config{Enabled: false, ServiceName: "hms"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer tp.Shutdown(context.Background())

	_, span := Tracer("test").Start(context.Background(), "op")
	span.End()
}
