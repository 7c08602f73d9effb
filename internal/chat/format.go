package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattjoyce/edgeclaw/internal/plugin"
)

const placeholder = "—"

// FormatResult renders a plugin result for a chat reply. Known plugins get a
// purpose-built layout; anything else is pretty-printed JSON.
func FormatResult(pluginName string, result json.RawMessage) string {
	var fields map[string]any
	_ = json.Unmarshal(result, &fields)

	switch strings.TrimPrefix(pluginName, "plugin-") {
	case "datetime":
		if fields != nil {
			return fmt.Sprintf("🕐 **Date & Time**\n📅 Date: %s\n🕐 Time: %s\n📆 Day: %s\n🌍 Zone: %s",
				str(fields, "date"), str(fields, "time"), str(fields, "day_of_week"), str(fields, "timezone"))
		}
	case "weather":
		if fields != nil {
			return formatWeather(fields)
		}
	case "calculator":
		if fields != nil {
			return fmt.Sprintf("🧮 **Calculator**\n📝 Expression: `%s`\n✅ Result: **%s**",
				str(fields, "expression"), str(fields, "result_str"))
		}
	case "file-reader":
		if fields != nil {
			return formatFile(fields)
		}
	}
	return prettyJSON(result)
}

func formatWeather(f map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🌍 **Weather — %s**\n🌤️ %s\n🌡️ Temp: %s\n🤔 Feels: %s\n💧 Humidity: %s\n💨 Wind: %s",
		str(f, "location"), str(f, "condition"), str(f, "temperature"),
		str(f, "feels_like"), str(f, "humidity"), str(f, "wind"))

	if days, ok := f["forecast"].([]any); ok {
		b.WriteString("\n\n📅 **3-Day Forecast**")
		for _, d := range days {
			day, _ := d.(map[string]any)
			date, _ := day["date"].(string)
			fmt.Fprintf(&b, "\n  %s → max %.0f°C / min %.0f°C / rain %.1fmm",
				date, num(day, "max_temp"), num(day, "min_temp"), num(day, "rain_mm"))
		}
	}
	return b.String()
}

func formatFile(f map[string]any) string {
	lines := num(f, "lines")
	if _, ok := f["lines"]; !ok {
		lines = num(f, "total_lines")
	}
	truncated := ""
	if t, _ := f["truncated"].(bool); t {
		truncated = " (truncated)"
	}
	content, ok := f["content"].(string)
	if !ok {
		content = "(empty)"
	}
	return fmt.Sprintf("📄 **File: %s**\n📏 Lines: %d | Size: %d bytes%s\n```\n%s\n```",
		str(f, "path"), int64(lines), int64(num(f, "size_bytes")), truncated, content)
}

// HelpText lists routable commands.
func HelpText(commands []plugin.CommandInfo) string {
	lines := make([]string, 0, len(commands))
	for _, c := range commands {
		lines = append(lines, fmt.Sprintf("  /%-20s %s", c.Command, c.Description))
	}
	if len(lines) == 0 {
		lines = append(lines, "  (no verified plugins installed)")
	}
	return "🦀 **EdgeClaw — Available Commands**\n\n" + strings.Join(lines, "\n") +
		"\n\nAll other messages are sent to the LLM for inference."
}

// UnknownCommandText is the reply for a command no verified plugin claims.
func UnknownCommandText(cmd string) string {
	return fmt.Sprintf("⚠️ Unknown command `/%s`.\nType `/help` to see all available commands.", cmd)
}

func str(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return placeholder
}

func num(m map[string]any, key string) float64 {
	if n, ok := m[key].(float64); ok {
		return n
	}
	return 0
}

func prettyJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}
