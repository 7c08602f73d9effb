package protocol

import "encoding/json"

// Request is the envelope written to a plugin's stdin, once, followed by EOF.
type Request struct {
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload"`
}

// Response is the single JSON object a plugin writes to stdout.
// Exactly one of two shapes is accepted:
//
//	{"success":true,"result":<any>,"error":null}
//	{"success":false,"result":null,"error":"<reason>"}
type Response struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *string         `json:"error"`
}

// argAliases are the payload keys the bundled weather, calculator and file-reader plugins
// read their free text from.
var argAliases = []string{"city", "expression", "path"}

// NewRequest builds a request for command. When args are non-empty and the plugin takes
// its payload from args, they are carried as payload.args and under each of argAliases.
func NewRequest(action, command, args string, payloadFromArgs bool) Request {
	payload := map[string]any{"command": command}
	if payloadFromArgs && args != "" {
		payload["args"] = args
		for _, k := range argAliases {
			payload[k] = args
		}
	}
	return Request{Action: action, Payload: payload}
}

// ResultValue decodes the result into a generic value.
func (r *Response) ResultValue() (any, error) {
	if len(r.Result) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(r.Result, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// ErrorMessage returns the plugin-reported reason, or "" on success.
func (r *Response) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}
