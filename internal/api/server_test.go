package api

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/betterdb/anomaly-engine/internal/config"
)

type echoService struct{}

func (echoService) ListEvents(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return in, nil
}

func (echoService) ListGroups(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return &structpb.Struct{}, nil
}

func (echoService) GetGroup(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.NotFound, "correlation group not found")
}

func (echoService) GetSummary(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"totalEvents": 3})
}

func (echoService) GetBufferStats(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return &structpb.Struct{}, nil
}

func TestServerServesAnomalyService(t *testing.T) {
	srv, err := NewServer(config.ServerConfig{Address: "127.0.0.1:0", GracefulTimeout: time.Second}, echoService{})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	go func() { _ = srv.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), srv.GracefulTimeout())
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient(srv.Address(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := NewAnomalyServiceClient(conn)

	in, _ := structpb.NewStruct(map[string]any{"metric": "connections"})
	out, err := client.ListEvents(ctx, in)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if out.Fields["metric"].GetStringValue() != "connections" {
		t.Fatalf("unexpected echo: %v", out)
	}

	summary, err := client.GetSummary(ctx, nil)
	if err != nil || summary.Fields["totalEvents"].GetNumberValue() != 3 {
		t.Fatalf("unexpected summary: %v, %v", summary, err)
	}

	if _, err := client.GetGroup(ctx, nil); status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}

	health, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: AnomalyServiceName})
	if err != nil || health.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected health: %v, %v", health, err)
	}
}

func TestNewServerBadAddress(t *testing.T) {
	if _, err := NewServer(config.ServerConfig{Address: "256.0.0.1:bad"}, echoService{}); err == nil {
		t.Fatalf("expected listen error")
	}
}
