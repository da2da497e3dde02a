package grpc

import (
	"context"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Belphemur/Sublynk/internal/aggregator"
	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/config"
	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/normalize"
)

// Searcher is the single-source OpenSubtitles search.
type Searcher interface {
	Search(ctx context.Context, query, language string, limit int) ([]models.RawSubtitle, error)
}

// Aggregator is the multi-source search and feed backend.
type Aggregator interface {
	Aggregate(ctx context.Context, query string, opts aggregator.Options) ([]models.Subtitle, error)
	Stream(ctx context.Context, query string, opts aggregator.Options) <-chan models.StreamResult[models.Chunk]
	Latest(ctx context.Context) ([]models.Subtitle, error)
	TopRated(ctx context.Context) ([]models.Subtitle, error)
}

// Deps holds the backends of the gRPC service. A nil Searcher makes Search
// return NotFound.
type Deps struct {
	Searcher   Searcher
	Aggregator Aggregator
	Normalizer *normalize.Normalizer
}

// server implements SubtitleServiceServer
type server struct {
	deps   Deps
	logger zerolog.Logger
}

// NewServer creates a new gRPC service implementation
func NewServer(deps Deps) SubtitleServiceServer {
	if deps.Normalizer == nil {
		deps.Normalizer = normalize.New(nil)
	}
	return &server{
		deps:   deps,
		logger: config.GetLogger().With().Str("component", "grpc").Logger(),
	}
}

// Search implements SubtitleServiceServer.Search
func (s *server) Search(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	query := stringField(req, "query")
	s.logger.Debug().Str("query", query).Msg("Search called")
	if s.deps.Searcher == nil {
		return nil, convertErrorToStatus(apperrors.NewNotFoundError("provider", string(models.SourceOpenSubtitles)))
	}
	if query == "" {
		return nil, convertErrorToStatus(&apperrors.ErrInvalidInput{Field: "query", Reason: "is required"})
	}
	limit, err := intField(req, "limit")
	if err != nil {
		return nil, convertErrorToStatus(err)
	}

	raws, err := s.deps.Searcher.Search(ctx, query, stringField(req, "language"), limit)
	if err != nil {
		s.logger.Error().Err(err).Str("query", query).Msg("Failed to search subtitles")
		return nil, convertErrorToStatus(err)
	}
	records := s.deps.Normalizer.NormalizeAll(raws, models.SourceOpenSubtitles)
	records = normalize.Filter(records, !req.GetFields()["showUnusable"].GetBoolValue())

	s.logger.Debug().Str("query", query).Int("count", len(records)).Msg("Search completed")
	return convertSubtitlesToProto(records)
}

// Aggregate implements SubtitleServiceServer.Aggregate
func (s *server) Aggregate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	query := stringField(req, "query")
	s.logger.Debug().Str("query", query).Msg("Aggregate called")
	opts, err := convertOptionsFromProto(req)
	if err != nil {
		return nil, convertErrorToStatus(err)
	}

	records, err := s.deps.Aggregator.Aggregate(ctx, query, opts)
	if err != nil {
		s.logger.Warn().Err(err).Str("query", query).Msg("Aggregate found nothing")
		return nil, convertErrorToStatus(err)
	}

	s.logger.Debug().Str("query", query).Int("count", len(records)).Msg("Aggregate completed")
	return convertSubtitlesToProto(records)
}

// StreamAggregate implements SubtitleServiceServer.StreamAggregate. Chunks are
// sent as sources answer; the stream ends with a status error when nothing
// usable was found.
func (s *server) StreamAggregate(req *structpb.Struct, stream grpc.ServerStream) error {
	query := stringField(req, "query")
	s.logger.Debug().Str("query", query).Msg("StreamAggregate called")
	opts, err := convertOptionsFromProto(req)
	if err != nil {
		return convertErrorToStatus(err)
	}

	ctx := stream.Context()
	count := 0
	for res := range s.deps.Aggregator.Stream(ctx, query, opts) {
		if res.Err != nil {
			s.logger.Warn().Err(res.Err).Str("query", query).Msg("StreamAggregate found nothing")
			return convertErrorToStatus(res.Err)
		}
		msg, err := convertChunkToProto(res.Value)
		if err != nil {
			return convertErrorToStatus(err)
		}
		if err := stream.SendMsg(msg); err != nil {
			s.logger.Error().Err(err).Msg("Failed to send chunk")
			return err
		}
		count += len(res.Value.Subtitles)
	}

	s.logger.Debug().Str("query", query).Int("count", count).Msg("StreamAggregate completed")
	return nil
}

// Latest implements SubtitleServiceServer.Latest
func (s *server) Latest(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.feed(ctx, aggregator.FeedLatest, s.deps.Aggregator.Latest)
}

// TopRated implements SubtitleServiceServer.TopRated
func (s *server) TopRated(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.feed(ctx, aggregator.FeedTopRated, s.deps.Aggregator.TopRated)
}

func (s *server) feed(ctx context.Context, name aggregator.Feed, load func(context.Context) ([]models.Subtitle, error)) (*structpb.Struct, error) {
	records, err := load(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("feed", string(name)).Msg("Failed to load feed")
		return nil, convertErrorToStatus(err)
	}
	s.logger.Debug().Str("feed", string(name)).Int("count", len(records)).Msg("Feed completed")
	return convertSubtitlesToProto(records)
}
