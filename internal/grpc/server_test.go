package grpc

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Belphemur/Sublynk/internal/aggregator"
	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/models"
)

// mockSearcher implements Searcher for testing
type mockSearcher struct {
	searchFunc func(ctx context.Context, query, language string, limit int) ([]models.RawSubtitle, error)
}

func (m *mockSearcher) Search(ctx context.Context, query, language string, limit int) ([]models.RawSubtitle, error) {
	if m.searchFunc != nil {
		return m.searchFunc(ctx, query, language, limit)
	}
	return nil, nil
}

// mockAggregator implements Aggregator for testing
type mockAggregator struct {
	aggregateFunc func(ctx context.Context, query string, opts aggregator.Options) ([]models.Subtitle, error)
	streamResults []models.StreamResult[models.Chunk]
	latestFunc    func(ctx context.Context) ([]models.Subtitle, error)
}

func (m *mockAggregator) Aggregate(ctx context.Context, query string, opts aggregator.Options) ([]models.Subtitle, error) {
	if m.aggregateFunc != nil {
		return m.aggregateFunc(ctx, query, opts)
	}
	return []models.Subtitle{}, nil
}

func (m *mockAggregator) Stream(ctx context.Context, _ string, _ aggregator.Options) <-chan models.StreamResult[models.Chunk] {
	ch := make(chan models.StreamResult[models.Chunk])
	go func() {
		defer close(ch)
		for _, r := range m.streamResults {
			select {
			case ch <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (m *mockAggregator) Latest(ctx context.Context) ([]models.Subtitle, error) {
	if m.latestFunc != nil {
		return m.latestFunc(ctx)
	}
	return nil, nil
}

func (m *mockAggregator) TopRated(context.Context) ([]models.Subtitle, error) {
	return []models.Subtitle{{ID: "OS-1", Source: models.SourceOpenSubtitles}}, nil
}

// mockServerStream implements grpc.ServerStream for testing streaming RPCs
type mockServerStream struct {
	grpc.ServerStream
	ctx   context.Context
	items []*structpb.Struct
}

func newMockServerStream() *mockServerStream {
	return &mockServerStream{ctx: context.Background()}
}

func (m *mockServerStream) SendMsg(msg any) error {
	m.items = append(m.items, msg.(*structpb.Struct))
	return nil
}

func (m *mockServerStream) SetHeader(metadata.MD) error  { return nil }
func (m *mockServerStream) SendHeader(metadata.MD) error { return nil }
func (m *mockServerStream) SetTrailer(metadata.MD)       {}
func (m *mockServerStream) Context() context.Context     { return m.ctx }
func (m *mockServerStream) RecvMsg(msg any) error        { return nil }

func mustStruct(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return s
}

func subtitleIDs(resp *structpb.Struct) []string {
	var ids []string
	for _, v := range resp.GetFields()["subtitles"].GetListValue().GetValues() {
		ids = append(ids, v.GetStructValue().GetFields()["id"].GetStringValue())
	}
	return ids
}

// TestSearch_Success tests a normalized and filtered search
func TestSearch_Success(t *testing.T) {
	t.Parallel()
	var gotLanguage string
	var gotLimit int
	searcher := &mockSearcher{
		searchFunc: func(_ context.Context, _, language string, limit int) ([]models.RawSubtitle, error) {
			gotLanguage, gotLimit = language, limit
			return []models.RawSubtitle{
				{ID: "1", FileID: "11", Language: "en"},
				{ID: "2", FileID: "22", Removed: true},
			}, nil
		},
	}

	srv := NewServer(Deps{Searcher: searcher, Aggregator: &mockAggregator{}})
	resp, err := srv.Search(context.Background(), mustStruct(t, map[string]any{"query": "Inception", "language": "fr", "limit": 5}))
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}

	if ids := subtitleIDs(resp); len(ids) != 1 || ids[0] != "OS-1" {
		t.Errorf("Expected [OS-1], got %v", ids)
	}
	if total := resp.GetFields()["total"].GetNumberValue(); total != 1 {
		t.Errorf("Expected total 1, got %v", total)
	}
	if gotLanguage != "fr" || gotLimit != 5 {
		t.Errorf("Expected language fr and limit 5, got %s %d", gotLanguage, gotLimit)
	}
}

// TestSearch_Errors tests argument validation and error mapping
func TestSearch_Errors(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		deps     Deps
		req      map[string]any
		wantCode codes.Code
	}{
		{"missing query", Deps{Searcher: &mockSearcher{}}, map[string]any{}, codes.InvalidArgument},
		{"bad limit", Deps{Searcher: &mockSearcher{}}, map[string]any{"query": "x", "limit": -1}, codes.InvalidArgument},
		{"no searcher", Deps{}, map[string]any{"query": "x"}, codes.NotFound},
		{
			"offline",
			Deps{Searcher: &mockSearcher{searchFunc: func(context.Context, string, string, int) ([]models.RawSubtitle, error) {
				return nil, &apperrors.ErrNetworkUnavailable{Provider: "OpenSubtitles", Err: errors.New("dial tcp: timeout")}
			}}},
			map[string]any{"query": "x"},
			codes.Unavailable,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := NewServer(tc.deps)
			_, err := srv.Search(context.Background(), mustStruct(t, tc.req))
			if got := status.Code(err); got != tc.wantCode {
				t.Errorf("Expected code %v, got %v (%v)", tc.wantCode, got, err)
			}
		})
	}
}

// TestAggregate_PassesOptions tests request decoding into aggregator options
func TestAggregate_PassesOptions(t *testing.T) {
	t.Parallel()
	var got aggregator.Options
	agg := &mockAggregator{
		aggregateFunc: func(_ context.Context, _ string, opts aggregator.Options) ([]models.Subtitle, error) {
			got = opts
			return []models.Subtitle{{ID: "SUBDB-a"}, {ID: "BSP-b"}}, nil
		},
	}
	srv := NewServer(Deps{Aggregator: agg})

	resp, err := srv.Aggregate(context.Background(), mustStruct(t, map[string]any{
		"query":        "inception",
		"sources":      []any{"subdb", "BSPlayer"},
		"limit":        3,
		"chunk":        "2",
		"showUnusable": true,
	}))
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if ids := subtitleIDs(resp); len(ids) != 2 {
		t.Errorf("Expected 2 subtitles, got %v", ids)
	}
	if len(got.Sources) != 2 || got.Sources[0] != models.SourceSubDB || got.Sources[1] != models.SourceBSPlayer {
		t.Errorf("Unexpected sources %v", got.Sources)
	}
	if got.PerSourceLimit != 3 || got.ChunkSize != 2 || !got.ShowUnusable {
		t.Errorf("Unexpected options %+v", got)
	}

	_, err = srv.Aggregate(context.Background(), mustStruct(t, map[string]any{"query": "x", "sources": "nosuch"}))
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("Expected InvalidArgument for an unknown source, got %v", err)
	}
}

// TestAggregate_NoSubtitlesDetails tests the ErrorInfo attached to statuses
func TestAggregate_NoSubtitlesDetails(t *testing.T) {
	t.Parallel()
	agg := &mockAggregator{
		aggregateFunc: func(context.Context, string, aggregator.Options) ([]models.Subtitle, error) {
			return nil, &apperrors.ErrNoSubtitles{Query: "zzz", Offline: true}
		},
	}
	srv := NewServer(Deps{Aggregator: agg})

	_, err := srv.Aggregate(context.Background(), mustStruct(t, map[string]any{"query": "zzz"}))
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.NotFound {
		t.Fatalf("Expected NotFound, got %v", err)
	}
	details := st.Details()
	if len(details) != 1 {
		t.Fatalf("Expected one detail, got %d", len(details))
	}
	if info, ok := details[0].(interface{ GetMetadata() map[string]string }); !ok || info.GetMetadata()["offline"] != "true" {
		t.Errorf("Expected offline metadata, got %v", details[0])
	}
}

// TestStreamAggregate_SendsChunks tests chunk streaming and the terminal error
func TestStreamAggregate_SendsChunks(t *testing.T) {
	t.Parallel()
	agg := &mockAggregator{streamResults: []models.StreamResult[models.Chunk]{
		{Value: models.Chunk{Source: models.SourceSubDB, Subtitles: []models.Subtitle{{ID: "SUBDB-a"}}}},
		{Value: models.Chunk{Source: models.SourceSubDB, Done: true}},
	}}
	srv := NewServer(Deps{Aggregator: agg})
	stream := newMockServerStream()

	if err := srv.StreamAggregate(mustStruct(t, map[string]any{"query": "inception"}), stream); err != nil {
		t.Fatalf("StreamAggregate returned error: %v", err)
	}
	if len(stream.items) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(stream.items))
	}
	first := stream.items[0].GetFields()
	if first["source"].GetStringValue() != "SubDB" || len(first["subtitles"].GetListValue().GetValues()) != 1 {
		t.Errorf("Unexpected first chunk %v", stream.items[0])
	}
	last := stream.items[1].GetFields()
	if !last["done"].GetBoolValue() || last["subtitles"].GetListValue() == nil {
		t.Errorf("Expected a done marker with an empty list, got %v", stream.items[1])
	}
}

func TestStreamAggregate_EndsWithStatus(t *testing.T) {
	t.Parallel()
	agg := &mockAggregator{streamResults: []models.StreamResult[models.Chunk]{
		{Value: models.Chunk{Source: models.SourceYIFY, Done: true}},
		{Err: &apperrors.ErrNoSubtitles{Query: "zzz"}},
	}}
	srv := NewServer(Deps{Aggregator: agg})
	stream := newMockServerStream()

	err := srv.StreamAggregate(mustStruct(t, map[string]any{"query": "zzz"}), stream)
	if status.Code(err) != codes.NotFound {
		t.Errorf("Expected NotFound, got %v", err)
	}
	if len(stream.items) != 1 {
		t.Errorf("Expected the chunk before the error to be sent, got %d", len(stream.items))
	}
}

// TestFeeds tests the Latest and TopRated RPCs
func TestFeeds(t *testing.T) {
	t.Parallel()
	agg := &mockAggregator{
		latestFunc: func(context.Context) ([]models.Subtitle, error) {
			return nil, errors.New("boom")
		},
	}
	srv := NewServer(Deps{Aggregator: agg})

	if _, err := srv.Latest(context.Background(), &emptypb.Empty{}); status.Code(err) != codes.Internal {
		t.Errorf("Expected Internal, got %v", err)
	}
	resp, err := srv.TopRated(context.Background(), &emptypb.Empty{})
	if err != nil {
		t.Fatalf("TopRated returned error: %v", err)
	}
	if ids := subtitleIDs(resp); len(ids) != 1 || ids[0] != "OS-1" {
		t.Errorf("Expected [OS-1], got %v", ids)
	}
}
