package writer

import (
	"encoding/json"
	"fmt"

	cbigquery "cloud.google.com/go/bigquery"
)

// EncodeJSON renders payload for a BigQuery JSON column. Nil and empty input
// become a NULL column; raw JSON passes through untouched.
func EncodeJSON(payload any) (cbigquery.NullJSON, error) {
	var raw []byte
	switch value := payload.(type) {
	case nil:
		return cbigquery.NullJSON{}, nil
	case cbigquery.NullJSON:
		return value, nil
	case json.RawMessage:
		raw = value
	case []byte:
		raw = value
	default:
		encoded, err := json.Marshal(payload)
		if err != nil {
			return cbigquery.NullJSON{}, fmt.Errorf("marshal json: %w", err)
		}
		raw = encoded
	}
	if len(raw) == 0 {
		return cbigquery.NullJSON{}, nil
	}
	return cbigquery.NullJSON{Valid: true, JSONVal: string(raw)}, nil
}
