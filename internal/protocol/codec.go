package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrMalformed marks stdout that is not exactly one valid response object.
var ErrMalformed = errors.New("malformed plugin response")

// EncodeRequest serializes a Request to JSON and writes it to w.
func EncodeRequest(w io.Writer, req *Request) error {
	if req.Action == "" {
		return fmt.Errorf("request missing required field: action")
	}
	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	encoder := json.NewEncoder(w)
	if err := encoder.Encode(Request{Action: req.Action, Payload: payload}); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	return nil
}

// wireResponse detects presence of each field, which Response cannot.
type wireResponse struct {
	Success *bool           `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

// DecodeResponse parses data as exactly one response object. Unknown fields, missing fields,
// trailing data, or a shape other than the two accepted ones wrap ErrMalformed.
func DecodeResponse(data []byte) (*Response, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: plugin produced no output on stdout", ErrMalformed)
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()

	var wire wireResponse
	if err := decoder.Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, err := decoder.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after response object", ErrMalformed)
	}

	if wire.Success == nil {
		return nil, fmt.Errorf("%w: missing required field: success", ErrMalformed)
	}
	if wire.Result == nil {
		return nil, fmt.Errorf("%w: missing required field: result", ErrMalformed)
	}
	if wire.Error == nil {
		return nil, fmt.Errorf("%w: missing required field: error", ErrMalformed)
	}

	resp := &Response{Success: *wire.Success}
	if *wire.Success {
		if !isNull(wire.Error) {
			return nil, fmt.Errorf("%w: success=true with non-null error", ErrMalformed)
		}
		resp.Result = wire.Result
		return resp, nil
	}

	if !isNull(wire.Result) {
		return nil, fmt.Errorf("%w: success=false with non-null result", ErrMalformed)
	}
	var reason string
	if err := json.Unmarshal(wire.Error, &reason); err != nil {
		return nil, fmt.Errorf("%w: error must be a string", ErrMalformed)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: success=false with empty error", ErrMalformed)
	}
	resp.Result = json.RawMessage("null")
	resp.Error = &reason
	return resp, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
