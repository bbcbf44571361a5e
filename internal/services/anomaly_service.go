package services

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/betterdb/anomaly-engine/internal/api"
	"github.com/betterdb/anomaly-engine/internal/storage"
)

// AnomalyService implements the gRPC anomaly.v1.AnomalyService.
type AnomalyService struct {
	logger  *slog.Logger
	queries api.Querier
}

var _ api.AnomalyServiceServer = (*AnomalyService)(nil)

// NewAnomalyService constructs the gRPC facade over queries.
func NewAnomalyService(logger *slog.Logger, queries api.Querier) *AnomalyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnomalyService{logger: logger, queries: queries}
}

// ListEvents returns stored anomaly events matching the request filters.
func (s *AnomalyService) ListEvents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.queries == nil {
		return nil, status.Error(codes.FailedPrecondition, "query service not configured")
	}
	q, err := api.ParseEventQuery(api.StructParams(req))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	events, err := s.queries.Events(ctx, q)
	if err != nil {
		return nil, s.internal("list events", err)
	}
	return s.respond(api.EventsResponse{Events: events, Count: len(events)})
}

// ListGroups returns stored correlation groups matching the request filters.
func (s *AnomalyService) ListGroups(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.queries == nil {
		return nil, status.Error(codes.FailedPrecondition, "query service not configured")
	}
	q, err := api.ParseGroupQuery(api.StructParams(req))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	groups, err := s.queries.Groups(ctx, q)
	if err != nil {
		return nil, s.internal("list groups", err)
	}
	return s.respond(api.GroupsResponse{Groups: groups, Count: len(groups)})
}

// GetGroup returns one correlation group by correlationId.
func (s *AnomalyService) GetGroup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.queries == nil {
		return nil, status.Error(codes.FailedPrecondition, "query service not configured")
	}
	id := api.StructParams(req).Get("correlationId")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "correlationId is required")
	}
	group, err := s.queries.Group(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, status.Error(codes.NotFound, "correlation group not found")
	}
	if err != nil {
		return nil, s.internal("get group", err)
	}
	return s.respond(group)
}

// GetSummary aggregates stored anomalies since the optional since field.
func (s *AnomalyService) GetSummary(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.queries == nil {
		return nil, status.Error(codes.FailedPrecondition, "query service not configured")
	}
	since, err := api.ParseSince(api.StructParams(req))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	summary, err := s.queries.Summary(ctx, since)
	if err != nil {
		return nil, s.internal("summary", err)
	}
	return s.respond(summary)
}

// GetBufferStats returns the current per-metric buffer snapshots and tick
// latency.
func (s *AnomalyService) GetBufferStats(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.queries == nil {
		return nil, status.Error(codes.FailedPrecondition, "query service not configured")
	}
	return s.respond(api.BuffersResponse{Buffers: s.queries.Buffers(), Tick: s.queries.Ticks()})
}

func (s *AnomalyService) respond(body any) (*structpb.Struct, error) {
	out, err := api.ToStruct(body)
	if err != nil {
		return nil, s.internal("encode response", err)
	}
	return out, nil
}

func (s *AnomalyService) internal(op string, err error) error {
	s.logger.Error("anomaly query failed", slog.String("op", op), slog.Any("error", err))
	if errors.Is(err, ErrNotConfigured) {
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	return status.Error(codes.Internal, "failed to "+op)
}
