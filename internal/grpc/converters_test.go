package grpc

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/models"
)

// TestConvertSubtitlesToProto tests field names follow the JSON form
func TestConvertSubtitlesToProto(t *testing.T) {
	t.Parallel()
	records := []models.Subtitle{{
		ID:       "POD-abc",
		Source:   models.SourcePodnapisi,
		FileID:   "https://www.podnapisi.net/subtitles/abc/download",
		FileName: "Inception.2010.zip",
		Status:   models.StatusOK,
		Attributes: models.Attributes{
			Language:      "en",
			Release:       "Inception 2010",
			DownloadCount: 42,
		},
	}}

	result, err := convertSubtitlesToProto(records)
	if err != nil {
		t.Fatalf("convertSubtitlesToProto: %v", err)
	}
	items := result.GetFields()["subtitles"].GetListValue().GetValues()
	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}
	fields := items[0].GetStructValue().GetFields()
	if fields["id"].GetStringValue() != "POD-abc" {
		t.Errorf("Expected id 'POD-abc', got '%s'", fields["id"].GetStringValue())
	}
	attrs := fields["attributes"].GetStructValue().GetFields()
	if attrs["download_count"].GetNumberValue() != 42 {
		t.Errorf("Expected download_count 42, got %v", attrs["download_count"])
	}
}

// TestConvertSubtitlesToProto_Nil tests an empty result is still a list
func TestConvertSubtitlesToProto_Nil(t *testing.T) {
	t.Parallel()
	result, err := convertSubtitlesToProto(nil)
	if err != nil {
		t.Fatalf("convertSubtitlesToProto: %v", err)
	}
	if result.GetFields()["subtitles"].GetListValue() == nil {
		t.Error("Expected an empty list, got none")
	}
	if result.GetFields()["total"].GetNumberValue() != 0 {
		t.Errorf("Expected total 0, got %v", result.GetFields()["total"])
	}
}

// TestIntField tests numeric argument decoding
func TestIntField(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name    string
		value   *structpb.Value
		want    int
		wantErr bool
	}{
		{"number", structpb.NewNumberValue(7), 7, false},
		{"string", structpb.NewStringValue("12"), 12, false},
		{"null", structpb.NewNullValue(), 0, false},
		{"fraction", structpb.NewNumberValue(1.5), 0, true},
		{"negative", structpb.NewNumberValue(-2), 0, true},
		{"bool", structpb.NewBoolValue(true), 0, true},
		{"garbage", structpb.NewStringValue("ten"), 0, true},
	}

	for _, tc := range testCases {
		in := &structpb.Struct{Fields: map[string]*structpb.Value{"limit": tc.value}}
		got, err := intField(in, "limit")
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: expected error=%v, got %v", tc.name, tc.wantErr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}

	if got, err := intField(&structpb.Struct{}, "limit"); err != nil || got != 0 {
		t.Errorf("Expected a missing field to read as 0, got %d %v", got, err)
	}
}

// TestConvertErrorToStatus tests the error class to code mapping
func TestConvertErrorToStatus(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		err        error
		wantCode   codes.Code
		wantReason string
	}{
		{&apperrors.ErrInvalidInput{Field: "query"}, codes.InvalidArgument, "FAILED"},
		{&apperrors.ErrHostNotAllowed{Provider: "TVSubtitles", Host: "evil.example"}, codes.InvalidArgument, "FAILED"},
		{&apperrors.ErrResourceMissing{Provider: "TVSubtitles"}, codes.NotFound, "MISSING"},
		{&apperrors.ErrNetworkUnavailable{Provider: "YIFY"}, codes.Unavailable, "FAILED_SERVER"},
		{&apperrors.ErrParseMismatch{Provider: "Podnapisi"}, codes.Unavailable, "FAILED_SERVER"},
		{&apperrors.ErrDownloadFailed{Provider: "YIFY", StatusCode: 410}, codes.FailedPrecondition, "FAILED"},
		{fmt.Errorf("wrapped: %w", &apperrors.ErrUpstreamBlocked{Provider: "Addic7ed"}), codes.Unavailable, "FAILED_SERVER"},
		{errors.New("boom"), codes.Internal, "FAILED_SERVER"},
	}

	for _, tc := range testCases {
		st, ok := status.FromError(convertErrorToStatus(tc.err))
		if !ok {
			t.Errorf("%v: expected a status error", tc.err)
			continue
		}
		if st.Code() != tc.wantCode {
			t.Errorf("%v: expected code %v, got %v", tc.err, tc.wantCode, st.Code())
		}
		details := st.Details()
		if len(details) != 1 {
			t.Errorf("%v: expected one detail, got %d", tc.err, len(details))
			continue
		}
		info, ok := details[0].(*errdetails.ErrorInfo)
		if !ok {
			t.Errorf("%v: expected ErrorInfo, got %T", tc.err, details[0])
			continue
		}
		if info.Reason != tc.wantReason || info.Domain != errorDomain {
			t.Errorf("%v: expected reason %s, got %s/%s", tc.err, tc.wantReason, info.Reason, info.Domain)
		}
	}

	if convertErrorToStatus(nil) != nil {
		t.Error("Expected nil for a nil error")
	}
	existing := status.Error(codes.Aborted, "already a status")
	if got := convertErrorToStatus(existing); status.Code(got) != codes.Aborted {
		t.Errorf("Expected status errors to pass through, got %v", got)
	}
}
