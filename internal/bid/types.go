// Package bid defines the core types shared across the monitor subsystems.
package bid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// JSON keys used by the registry for the identifying fields of a record.
const (
	KeyName            = "nome"
	KeySubjectCode     = "codigo_atleta"
	KeyContractNumber  = "contrato_numero"
	KeyPublicationDate = "data_publicacao"
)

// Record is one contract row returned by the registry search.
type Record struct {
	Name            string
	SubjectCode     string
	ContractNumber  string
	PublicationDate string
	// Attributes holds every other field of the row, untouched.
	Attributes map[string]json.RawMessage
}

// UnmarshalJSON decodes a registry row. Key fields keep their literal text,
// so a numeric codigo_atleta of 12345 becomes "12345".
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("decode record: not an object")
	}
	out := Record{Attributes: make(map[string]json.RawMessage, len(raw))}
	for key, value := range raw {
		switch key {
		case KeyName:
			out.Name = literal(value)
		case KeySubjectCode:
			out.SubjectCode = literal(value)
		case KeyContractNumber:
			out.ContractNumber = literal(value)
		case KeyPublicationDate:
			out.PublicationDate = literal(value)
		default:
			out.Attributes[key] = append(json.RawMessage(nil), value...)
		}
	}
	*r = out
	return nil
}

// MarshalJSON re-emits the record with the key fields as strings.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Attributes)+4)
	for k, v := range r.Attributes {
		out[k] = v
	}
	out[KeyName] = r.Name
	out[KeySubjectCode] = r.SubjectCode
	out[KeyContractNumber] = r.ContractNumber
	out[KeyPublicationDate] = r.PublicationDate
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

// Attribute returns a pass-through attribute as text, or "" when absent.
func (r Record) Attribute(key string) string {
	v, ok := r.Attributes[key]
	if !ok {
		return ""
	}
	return literal(v)
}

// DisplayName falls back to the subject code when the row has no name.
func (r Record) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	if r.SubjectCode != "" {
		return r.SubjectCode
	}
	return "unknown"
}

func literal(value json.RawMessage) string {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}

// RawBatch is the unparsed body of an accepted search.
type RawBatch []byte

// SearchResponse is what the registry returned for one search submission.
type SearchResponse struct {
	StatusCode int
	Body       []byte
}

// IsCaptchaRejection reports whether the registry refused the CAPTCHA answer.
func (r SearchResponse) IsCaptchaRejection() bool {
	return strings.Contains(strings.ToLower(string(r.Body)), "captcha")
}

// AttemptOutcome is the terminal state of one CAPTCHA attempt.
type AttemptOutcome string

// Attempt outcomes recorded by the fetcher.
const (
	AttemptAccepted   AttemptOutcome = "accepted"
	AttemptRejected   AttemptOutcome = "rejected"
	AttemptOCRSkipped AttemptOutcome = "ocr_skipped"
	AttemptError      AttemptOutcome = "error"
)
