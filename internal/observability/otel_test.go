package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"

	"github.com/mindwell/go-scheduling-backend/internal/config"
)

func TestSetupOTel_DisabledReturnsNoopShutdown(t *testing.T) {
	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{Enabled: false}, "test")
	if err != nil {
		t.Fatalf("SetupOTel: %v", err)
	}
	if shutdown == nil {
		t.Fatalf("shutdown must not be nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
}

func TestSetupOTel_ExporterFailurePropagates(t *testing.T) {
	orig := newOTLPExporterFn
	t.Cleanup(func() { newOTLPExporterFn = orig })

	wantErr := errors.New("exporter down")
	newOTLPExporterFn = func(ctx context.Context, client otlptrace.Client) (*otlptrace.Exporter, error) {
		return nil, wantErr
	}

	cfg := config.OTELConfig{
		Enabled:     true,
		Endpoint:    "localhost:4317",
		Insecure:    true,
		ServiceName: "test",
		SampleRatio: 1,
	}
	if _, err := SetupOTel(context.Background(), cfg, "test"); !errors.Is(err, wantErr) {
		t.Fatalf("expected exporter error, got %v", err)
	}
}
