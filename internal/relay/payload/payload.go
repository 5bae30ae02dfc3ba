// Package payload builds Slack attachment JSON for single and batched deliveries.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultColors maps level names to attachment colors.
var DefaultColors = map[string]string{
	"TRACE": "#8C8C8C",
	"DEBUG": "#B2EBF4",
	"INFO":  "#0100FF",
	"WARN":  "#FF5E00",
	"ERROR": "#FF0000",
}

// Attachment is the rendered view of one event.
type Attachment struct {
	Severity string // level name, e.g. "WARN"
	Message  string // raw message, goes into the pretext
	Text     string // layout output
}

// object is the wire shape; field order is the order Slack clients have always seen.
type object struct {
	Pretext string `json:"pretext"`
	Text    string `json:"text"`
	Channel string `json:"channel"`
	Color   string `json:"color,omitempty"`
}

type envelope struct {
	Attachments []json.RawMessage `json:"attachments"`
}

// Encoder is bound to one destination channel. Its color table is copied at
// construction and never written afterwards, so an Encoder is safe for
// concurrent use.
type Encoder struct {
	channel string
	colors  map[string]string
}

// NewEncoder returns an encoder for channel. A nil colors map selects DefaultColors.
func NewEncoder(channel string, colors map[string]string) *Encoder {
	if colors == nil {
		colors = DefaultColors
	}
	cp := make(map[string]string, len(colors))
	for k, v := range colors {
		cp[k] = v
	}
	return &Encoder{channel: channel, colors: cp}
}

// Color returns the color for a level name ("" when unmapped).
func (e *Encoder) Color(severity string) string { return e.colors[severity] }

// Single encodes one attachment object.
func (e *Encoder) Single(a Attachment) ([]byte, error) {
	return marshal(object{
		Pretext: "[" + a.Severity + "] " + a.Message,
		Text:    a.Text,
		Channel: e.channel,
		Color:   e.colors[a.Severity],
	})
}

// Batch wraps already encoded objects into {"attachments":[...]}.
func (e *Encoder) Batch(objs []json.RawMessage) ([]byte, error) {
	if objs == nil {
		objs = []json.RawMessage{}
	}
	return marshal(envelope{Attachments: objs})
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// Chat clients render <, > and & literally.
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
