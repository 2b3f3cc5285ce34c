package collect

import (
	"fmt"
	"strings"

	"coin/internal/domain/model"

	"github.com/segmentio/encoding/json"
)

// Format 输出表示
type Format string

const (
	FormatEvents Format = "events" // one line of text per event
	FormatJSON   Format = "json"   // one JSON object per line
)

// ParseFormat 解析输出格式，空字符串为 events
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatEvents, "", "text", "line":
		return FormatEvents, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

// Formatter renders an event in the active representation.
type Formatter struct {
	format Format
}

func NewFormatter(format Format) *Formatter {
	if format == "" {
		format = FormatEvents
	}
	return &Formatter{format: format}
}

// Render 返回不含换行的单条记录
func (f *Formatter) Render(ev model.Event) (string, error) {
	switch f.format {
	case FormatJSON:
		b, err := json.Marshal(ev)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return ev.String(), nil
	}
}
