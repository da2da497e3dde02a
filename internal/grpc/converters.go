package grpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Belphemur/Sublynk/internal/aggregator"
	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/models"
)

// errorDomain is the ErrorInfo domain attached to every status.
const errorDomain = "sublynk"

// toValue converts v into a structpb value through its JSON form, so the
// messages carry the same field names as the HTTP API.
func toValue(v any) (*structpb.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return structpb.NewValue(generic)
}

// convertSubtitlesToProto builds the {subtitles, total} response message.
func convertSubtitlesToProto(records []models.Subtitle) (*structpb.Struct, error) {
	if records == nil {
		records = []models.Subtitle{}
	}
	list, err := toValue(records)
	if err != nil {
		return nil, fmt.Errorf("convert subtitles: %w", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"subtitles": list,
		"total":     structpb.NewNumberValue(float64(len(records))),
	}}, nil
}

// convertChunkToProto builds one StreamAggregate message.
func convertChunkToProto(chunk models.Chunk) (*structpb.Struct, error) {
	if chunk.Subtitles == nil {
		chunk.Subtitles = []models.Subtitle{}
	}
	v, err := toValue(chunk)
	if err != nil {
		return nil, fmt.Errorf("convert chunk: %w", err)
	}
	return v.GetStructValue(), nil
}

func stringField(in *structpb.Struct, name string) string {
	return strings.TrimSpace(in.GetFields()[name].GetStringValue())
}

func intField(in *structpb.Struct, name string) (int, error) {
	v, ok := in.GetFields()[name]
	if !ok {
		return 0, nil
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		if kind.NumberValue < 0 || kind.NumberValue != float64(int(kind.NumberValue)) {
			return 0, &apperrors.ErrInvalidInput{Field: name, Reason: "must be a non-negative integer"}
		}
		return int(kind.NumberValue), nil
	case *structpb.Value_StringValue:
		n, err := strconv.Atoi(strings.TrimSpace(kind.StringValue))
		if err != nil || n < 0 {
			return 0, &apperrors.ErrInvalidInput{Field: name, Reason: "must be a non-negative integer"}
		}
		return n, nil
	case *structpb.Value_NullValue:
		return 0, nil
	default:
		return 0, &apperrors.ErrInvalidInput{Field: name, Reason: "must be a number"}
	}
}

// convertOptionsFromProto reads {sources, limit, chunk, showUnusable}.
// sources may be a list or a comma separated string.
func convertOptionsFromProto(in *structpb.Struct) (aggregator.Options, error) {
	var opts aggregator.Options
	var names []string
	switch v := in.GetFields()["sources"].GetKind().(type) {
	case *structpb.Value_ListValue:
		for _, item := range v.ListValue.GetValues() {
			names = append(names, item.GetStringValue())
		}
	case *structpb.Value_StringValue:
		names = strings.Split(v.StringValue, ",")
	}
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		src, ok := models.ParseSource(name)
		if !ok {
			return opts, &apperrors.ErrInvalidInput{Field: "sources", Reason: "unknown provider " + strings.TrimSpace(name)}
		}
		opts.Sources = append(opts.Sources, src)
	}

	var err error
	if opts.PerSourceLimit, err = intField(in, "limit"); err != nil {
		return opts, err
	}
	if opts.ChunkSize, err = intField(in, "chunk"); err != nil {
		return opts, err
	}
	opts.ShowUnusable = in.GetFields()["showUnusable"].GetBoolValue()
	return opts, nil
}

// convertErrorToStatus maps a typed error onto a gRPC status carrying an
// ErrorInfo with the X-Subtitle-Status value as reason.
func convertErrorToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	httpStatus := apperrors.HTTPStatus(err)
	code := codes.Internal
	switch {
	case httpStatus == http.StatusBadRequest:
		code = codes.InvalidArgument
	case httpStatus == http.StatusNotFound:
		code = codes.NotFound
	case httpStatus == http.StatusServiceUnavailable, httpStatus == http.StatusBadGateway:
		code = codes.Unavailable
	case errors.Is(err, &apperrors.ErrDownloadFailed{}) && httpStatus < http.StatusInternalServerError:
		code = codes.FailedPrecondition
	}

	st := status.New(code, err.Error())
	info := &errdetails.ErrorInfo{
		Reason: strings.ToUpper(strings.ReplaceAll(apperrors.SubtitleStatus(err), "-", "_")),
		Domain: errorDomain,
		Metadata: map[string]string{
			"http_status": strconv.Itoa(httpStatus),
		},
	}
	var none *apperrors.ErrNoSubtitles
	if errors.As(err, &none) && none.Offline {
		info.Metadata["offline"] = "true"
	}
	if detailed, derr := st.WithDetails(info); derr == nil {
		st = detailed
	}
	return st.Err()
}
