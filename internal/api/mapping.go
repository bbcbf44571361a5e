package api

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/betterdb/anomaly-engine/internal/models"
	"github.com/betterdb/anomaly-engine/internal/storage"
	"github.com/betterdb/anomaly-engine/internal/utils"
)

// EventsResponse is the body of an event listing.
type EventsResponse struct {
	Events []models.AnomalyEvent `json:"events"`
	Count  int                   `json:"count"`
}

// GroupsResponse is the body of a group listing.
type GroupsResponse struct {
	Groups []models.CorrelatedAnomalyGroup `json:"groups"`
	Count  int                             `json:"count"`
}

// BuffersResponse is the body of a buffer stats listing.
type BuffersResponse struct {
	Buffers []models.BufferStats `json:"buffers"`
	Tick    models.TickStats     `json:"tick"`
}

// HealthResponse is the body of the liveness endpoint.
type HealthResponse struct {
	Status string           `json:"status"`
	Tick   models.TickStats `json:"tick"`
}

// ParseEventQuery reads since, until, metric, severity, unresolved and limit.
func ParseEventQuery(params url.Values) (storage.EventQuery, error) {
	var (
		q   storage.EventQuery
		err error
	)
	if q.Since, q.Until, err = parseRange(params); err != nil {
		return q, err
	}
	if v := params.Get("metric"); v != "" {
		metric := models.MetricType(v)
		if !metric.Valid() {
			return q, fmt.Errorf("unknown metric %q", v)
		}
		q.Metric = metric
	}
	if q.Severity, err = parseSeverity(params.Get("severity")); err != nil {
		return q, err
	}
	if v := params.Get("unresolved"); v != "" {
		if q.UnresolvedOnly, err = strconv.ParseBool(v); err != nil {
			return q, fmt.Errorf("invalid unresolved %q", v)
		}
	}
	if q.Limit, err = parseLimit(params.Get("limit")); err != nil {
		return q, err
	}
	return q, nil
}

// ParseGroupQuery reads since, until, pattern, severity and limit.
func ParseGroupQuery(params url.Values) (storage.GroupQuery, error) {
	var (
		q   storage.GroupQuery
		err error
	)
	if q.Since, q.Until, err = parseRange(params); err != nil {
		return q, err
	}
	if v := params.Get("pattern"); v != "" {
		pattern := models.AnomalyPattern(v)
		if !knownPattern(pattern) {
			return q, fmt.Errorf("unknown pattern %q", v)
		}
		q.Pattern = pattern
	}
	if q.Severity, err = parseSeverity(params.Get("severity")); err != nil {
		return q, err
	}
	if q.Limit, err = parseLimit(params.Get("limit")); err != nil {
		return q, err
	}
	return q, nil
}

// ParseSince reads the optional since parameter.
func ParseSince(params url.Values) (int64, error) {
	since, _, err := parseRange(params)
	return since, err
}

// StructParams flattens a request struct into query parameters so gRPC and
// REST share one parser.
func StructParams(in *structpb.Struct) url.Values {
	params := url.Values{}
	for key, value := range in.GetFields() {
		switch kind := value.GetKind().(type) {
		case *structpb.Value_StringValue:
			params.Set(key, kind.StringValue)
		case *structpb.Value_NumberValue:
			params.Set(key, strconv.FormatFloat(kind.NumberValue, 'f', -1, 64))
		case *structpb.Value_BoolValue:
			params.Set(key, strconv.FormatBool(kind.BoolValue))
		}
	}
	return params
}

// ToStruct converts a JSON-serialisable value into a protobuf Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return structpb.NewStruct(fields)
}

// FromStruct decodes a protobuf Struct into out through its JSON form.
func FromStruct(in *structpb.Struct, out any) error {
	data, err := in.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode struct: %w", err)
	}
	return json.Unmarshal(data, out)
}

func parseRange(params url.Values) (int64, int64, error) {
	var since, until int64
	if v := params.Get("since"); v != "" {
		ms, err := utils.ParseTimeParam(v)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid since: %w", err)
		}
		since = ms
	}
	if v := params.Get("until"); v != "" {
		ms, err := utils.ParseTimeParam(v)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid until: %w", err)
		}
		until = ms
	}
	if since > 0 && until > 0 && until < since {
		return 0, 0, fmt.Errorf("until must not precede since")
	}
	return since, until, nil
}

func parseSeverity(v string) (models.Severity, error) {
	if v == "" {
		return "", nil
	}
	severity := models.Severity(strings.ToLower(v))
	if severity.Rank() == 0 {
		return "", fmt.Errorf("unknown severity %q", v)
	}
	return severity, nil
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("invalid limit %q", v)
	}
	return limit, nil
}

func knownPattern(p models.AnomalyPattern) bool {
	switch p {
	case models.PatternTrafficBurst, models.PatternBatchJob, models.PatternMemoryPressure,
		models.PatternSlowQueries, models.PatternAuthAttack, models.PatternConnectionLeak,
		models.PatternCacheThrashing, models.PatternUnknown:
		return true
	}
	return false
}
