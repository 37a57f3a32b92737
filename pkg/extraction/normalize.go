package extraction

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/scripta-ai/platform/pkg/common/models"
)

// ParseError reports a provider response that could not be normalized.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse extraction response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseResponse normalizes the raw provider output into ExtractedData.
// The model sometimes wraps its JSON in markdown code fences; those are
// stripped by an explicit grammar before parsing. Missing or null fields
// become empty strings, ages are coerced to strings, and the prescribed
// test list keeps the provider's order.
func ParseResponse(raw string) (models.ExtractedData, error) {
	stripped, err := stripCodeFence(raw)
	if err != nil {
		return models.ExtractedData{}, &ParseError{Err: err}
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(stripped), &payload); err != nil {
		return models.ExtractedData{}, &ParseError{Err: err}
	}

	data := models.ExtractedData{
		Date:             asString(payload["date"]),
		PatientAddress:   asString(payload["patient_address"]),
		PatientAge:       asString(payload["patient_age"]),
		PatientAgePeriod: asString(payload["patient_age_period"]),
		PatientContact:   asString(payload["patient_contact"]),
		PatientName:      asString(payload["patient_name"]),
		PatientSex:       asString(payload["patient_sex"]),
		PatientTitle:     asString(payload["patient_title"]),
		ReferrerName:     asString(payload["referrer_name"]),
		ReferrerType:     asString(payload["referrer_type"]),
		Remark:           asString(payload["remark"]),
		UHID:             asString(payload["ID"]),
		PrescribedTests:  []string{},
	}

	if rawTests, ok := payload["prescribed_tests"]; ok && rawTests != nil {
		tests, ok := rawTests.([]interface{})
		if !ok {
			return models.ExtractedData{}, &ParseError{Err: fmt.Errorf("prescribed_tests is not a list")}
		}
		for _, item := range tests {
			data.PrescribedTests = append(data.PrescribedTests, asString(item))
		}
	}

	return data, nil
}

// stripCodeFence removes one optional surrounding markdown fence. The
// grammar is strict: a response either has no fence, or it starts with
// ``` plus an optional language tag and ends with a matching ```.
func stripCodeFence(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty response")
	}
	if !strings.HasPrefix(s, "```") {
		return s, nil
	}

	s = s[3:]
	// Optional language tag ends at the first newline.
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		tag := strings.TrimSpace(s[:nl])
		if tag != "" && !strings.EqualFold(tag, "json") {
			return "", fmt.Errorf("unexpected code fence tag %q", tag)
		}
		s = s[nl+1:]
	}

	if !strings.HasSuffix(strings.TrimSpace(s), "```") {
		return "", fmt.Errorf("unterminated code fence")
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(s[:len(s)-3]), nil
}

// asString renders a JSON value the way the persistence schema expects:
// nulls become "", numbers lose any trailing ".0", everything else is
// printed as-is.
func asString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
