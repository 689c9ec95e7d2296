package kaahttp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RedactedPlaceholder replaces the values of sensitive keys in sanitized
// responses.
const RedactedPlaceholder = "[REDACTED]"

// defaultSensitiveKeys are redacted by the DataSanitizer unless overridden.
var defaultSensitiveKeys = []string{
	"password",
	"secret",
	"token",
	"access_token",
	"refresh_token",
	"authorization",
	"api_key",
	"apikey",
	"card_number",
	"cvv",
	"pin",
	"ssn",
}

const sanitizerMaxDepth = 32

// DataSanitizer removes sensitive values from JSON response bodies before
// they reach application code. A sanitization error is a violation, not a
// request failure; the interceptor recovers by keeping the original body and
// emitting a security event.
type DataSanitizer struct {
	sensitive map[string]struct{}
}

// NewDataSanitizer creates a sanitizer redacting the default sensitive keys
// plus any extras. Matching is case-insensitive on the full key name.
func NewDataSanitizer(extraKeys ...string) *DataSanitizer {
	s := &DataSanitizer{sensitive: make(map[string]struct{}, len(defaultSensitiveKeys)+len(extraKeys))}
	for _, k := range defaultSensitiveKeys {
		s.sensitive[k] = struct{}{}
	}
	for _, k := range extraKeys {
		s.sensitive[strings.ToLower(k)] = struct{}{}
	}
	return s
}

// SanitizeResponse returns body with sensitive values redacted. Non-JSON
// content types pass through untouched. A JSON content type with an
// unparseable body, or a document nested beyond the depth ceiling, is a
// violation and returns an error.
func (s *DataSanitizer) SanitizeResponse(body []byte, contentType string) ([]byte, error) {
	if len(body) == 0 || !isJSONContentType(contentType) {
		return body, nil
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("kaahttp: sanitize: body is not valid JSON: %w", err)
	}

	cleaned, err := s.sanitizeValue(doc, 0)
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(cleaned)
	if err != nil {
		return nil, fmt.Errorf("kaahttp: sanitize: re-encode failed: %w", err)
	}
	return out, nil
}

func (s *DataSanitizer) sanitizeValue(v interface{}, depth int) (interface{}, error) {
	if depth > sanitizerMaxDepth {
		return nil, fmt.Errorf("kaahttp: sanitize: nesting exceeds %d levels", sanitizerMaxDepth)
	}

	switch value := v.(type) {
	case map[string]interface{}:
		for key, inner := range value {
			if s.isSensitive(key) {
				value[key] = RedactedPlaceholder
				continue
			}
			cleaned, err := s.sanitizeValue(inner, depth+1)
			if err != nil {
				return nil, err
			}
			value[key] = cleaned
		}
		return value, nil
	case []interface{}:
		for i, inner := range value {
			cleaned, err := s.sanitizeValue(inner, depth+1)
			if err != nil {
				return nil, err
			}
			value[i] = cleaned
		}
		return value, nil
	default:
		return v, nil
	}
}

func (s *DataSanitizer) isSensitive(key string) bool {
	_, ok := s.sensitive[strings.ToLower(key)]
	return ok
}

func isJSONContentType(ct string) bool {
	ct = strings.ToLower(ct)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.TrimSpace(ct)
	return ct == "application/json" || strings.HasSuffix(ct, "+json")
}
