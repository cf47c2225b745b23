package energylive

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Record is one measurement update received on a live stream.
type Record struct {
	Measurement string
	Value       any
}

// ParseRecord decodes one live stream line. The upstream lines look like
// `data: {"measurement": "...", "value": ...}` with the field name unquoted,
// so the line is wrapped in braces and the first bare `data` token quoted
// before it is decoded as JSON.
func ParseRecord(line string) (Record, error) {
	repaired := "{" + strings.Replace(line, "data", `"data"`, 1) + "}"

	var envelope struct {
		Data *struct {
			Measurement string          `json:"measurement"`
			Value       json.RawMessage `json:"value"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(repaired), &envelope); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if envelope.Data == nil || envelope.Data.Measurement == "" || len(envelope.Data.Value) == 0 {
		return Record{}, ErrMalformedRecord
	}

	var value any
	if err := json.Unmarshal(envelope.Data.Value, &value); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return Record{
		Measurement: envelope.Data.Measurement,
		Value:       value,
	}, nil
}
