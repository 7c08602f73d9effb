// Command echo is a minimal edgeclaw plugin that returns its arguments.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattjoyce/edgeclaw/internal/protocol"
)

func main() {
	resp := handle(os.Stdin)
	_ = json.NewEncoder(os.Stdout).Encode(resp)
}

func handle(r io.Reader) protocol.Response {
	var req protocol.Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return errResp(fmt.Sprintf("invalid request JSON: %v", err))
	}

	switch req.Action {
	case "echo":
		args, _ := req.Payload["args"].(string)
		args = strings.TrimSpace(args)
		if args == "" {
			return errResp("nothing to echo: usage /echo <text>")
		}
		return okResp(map[string]any{"echo": args, "length": len(args)})
	default:
		return errResp(fmt.Sprintf("unknown action: %s", req.Action))
	}
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
