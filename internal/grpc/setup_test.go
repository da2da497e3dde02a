package grpc

import (
	"context"
	"io"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Belphemur/Sublynk/internal/models"
)

func TestNewGRPCServer_ReturnsNonNil(t *testing.T) {
	srv := NewGRPCServer(Deps{Aggregator: &mockAggregator{}})
	if srv == nil {
		t.Fatal("Expected non-nil gRPC server")
	}
}

func TestNewGRPCServer_HealthCheck(t *testing.T) {
	srv := NewGRPCServer(Deps{Aggregator: &mockAggregator{}})

	lis, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	go func() { _ = srv.Serve(lis) }()
	defer srv.GracefulStop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	healthClient := grpc_health_v1.NewHealthClient(conn)

	// Check overall server health
	resp, err := healthClient.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: ""})
	if err != nil {
		t.Fatalf("Health check failed: %v", err)
	}
	if resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING status, got %v", resp.Status)
	}

	// Check specific service health
	resp, err = healthClient.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{
		Service: ServiceName,
	})
	if err != nil {
		t.Fatalf("Service-specific health check failed: %v", err)
	}
	if resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING status for service, got %v", resp.Status)
	}
}

func TestNewGRPCServer_ReflectionEnabled(t *testing.T) {
	srv := NewGRPCServer(Deps{Aggregator: &mockAggregator{}})

	lis, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	go func() { _ = srv.Serve(lis) }()
	defer srv.GracefulStop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	// Verify reflection is available by listing services
	reflectionClient := grpc_reflection_v1.NewServerReflectionClient(conn)
	stream, err := reflectionClient.ServerReflectionInfo(context.Background())
	if err != nil {
		t.Fatalf("Failed to create reflection stream: %v", err)
	}

	err = stream.Send(&grpc_reflection_v1.ServerReflectionRequest{
		MessageRequest: &grpc_reflection_v1.ServerReflectionRequest_ListServices{
			ListServices: "",
		},
	})
	if err != nil {
		t.Fatalf("Failed to send reflection request: %v", err)
	}

	resp, err := stream.Recv()
	if err != nil {
		t.Fatalf("Failed to receive reflection response: %v", err)
	}

	listResp := resp.GetListServicesResponse()
	if listResp == nil {
		t.Fatal("Expected list services response")
	}

	// Should contain the subtitle service
	found := false
	for _, svc := range listResp.Service {
		if svc.Name == ServiceName {
			found = true
			break
		}
	}
	if !found {
		t.Error("Expected the subtitle service to be registered")
	}
}

func TestNewGRPCServer_CalledMultipleTimes(t *testing.T) {
	// Verify sync.Once prevents double-registration panics
	srv1 := NewGRPCServer(Deps{Aggregator: &mockAggregator{}})
	srv2 := NewGRPCServer(Deps{Aggregator: &mockAggregator{}})

	if srv1 == nil || srv2 == nil {
		t.Fatal("Expected non-nil servers from multiple calls")
	}
}

func TestNewGRPCServer_InvokesSubtitleService(t *testing.T) {
	agg := &mockAggregator{streamResults: []models.StreamResult[models.Chunk]{
		{Value: models.Chunk{Source: models.SourceSubDB, Subtitles: []models.Subtitle{{ID: "SUBDB-a"}}, Done: true}},
	}}
	srv := NewGRPCServer(Deps{Aggregator: agg})

	lis, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	go func() { _ = srv.Serve(lis) }()
	defer srv.GracefulStop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	top := new(structpb.Struct)
	if err := conn.Invoke(ctx, MethodTopRated, &emptypb.Empty{}, top); err != nil {
		t.Fatalf("TopRated failed: %v", err)
	}
	if ids := subtitleIDs(top); len(ids) != 1 || ids[0] != "OS-1" {
		t.Errorf("Expected [OS-1], got %v", ids)
	}

	stream, err := conn.NewStream(ctx, &SubtitleServiceDesc.Streams[0], MethodStreamAggregate)
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}
	if err := stream.SendMsg(mustStruct(t, map[string]any{"query": "inception"})); err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend: %v", err)
	}

	var chunks []*structpb.Struct
	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if err != io.EOF {
				t.Fatalf("RecvMsg: %v", err)
			}
			break
		}
		chunks = append(chunks, msg)
	}
	if len(chunks) != 1 || !chunks[0].GetFields()["done"].GetBoolValue() {
		t.Errorf("Expected one done chunk, got %v", chunks)
	}
}
