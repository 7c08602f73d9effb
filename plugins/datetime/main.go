// Command datetime reports the current date and time, optionally in a named IANA zone.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattjoyce/edgeclaw/internal/protocol"
)

func main() {
	resp := handle(os.Stdin, time.Now)
	_ = json.NewEncoder(os.Stdout).Encode(resp)
}

func handle(r io.Reader, now func() time.Time) protocol.Response {
	var req protocol.Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return errResp(fmt.Sprintf("invalid request JSON: %v", err))
	}
	if req.Action != "now" {
		return errResp(fmt.Sprintf("unknown action: %s", req.Action))
	}

	t := now()
	if zone, _ := req.Payload["args"].(string); strings.TrimSpace(zone) != "" {
		loc, err := time.LoadLocation(strings.TrimSpace(zone))
		if err != nil {
			return errResp(fmt.Sprintf("unknown timezone %q", strings.TrimSpace(zone)))
		}
		t = t.In(loc)
	}

	zoneName, _ := t.Zone()
	return okResp(map[string]any{
		"date":        t.Format("2006-01-02"),
		"time":        t.Format("15:04:05"),
		"day_of_week": t.Weekday().String(),
		"timezone":    fmt.Sprintf("%s (%s)", t.Location().String(), zoneName),
		"iso":         t.Format(time.RFC3339),
		"unix":        t.Unix(),
	})
}

func okResp(result any) protocol.Response {
	data, err := json.Marshal(result)
	if err != nil {
		return errResp(fmt.Sprintf("encode result: %v", err))
	}
	return protocol.Response{Success: true, Result: data}
}

func errResp(msg string) protocol.Response {
	return protocol.Response{Success: false, Result: json.RawMessage("null"), Error: &msg}
}
