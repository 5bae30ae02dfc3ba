package relay

import (
	"strings"
	"text/template"
)

// Layout renders the body ("text") of an attachment. It must be safe for
// concurrent use: send tasks and the drainer render in parallel.
type Layout interface {
	Render(ev Event) string
}

// LayoutFunc adapts a function to Layout.
type LayoutFunc func(ev Event) string

func (f LayoutFunc) Render(ev Event) string { return f(ev) }

// DefaultPattern renders "2006-01-02 15:04:05.000 WARN [comp] message k=v ...".
const DefaultPattern = `{{.Time.Format "2006-01-02 15:04:05.000"}} {{.Level}} ` +
	`{{with .Logger}}[{{.}}] {{end}}{{.Message}}{{range $k, $v := .Fields}} {{$k}}={{$v}}{{end}}`

// TemplateLayout renders events with a text/template pattern.
type TemplateLayout struct {
	tmpl *template.Template
}

// NewTemplateLayout parses pattern; an empty pattern selects DefaultPattern.
func NewTemplateLayout(pattern string) (*TemplateLayout, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultPattern
	}
	t, err := template.New("layout").Option("missingkey=zero").Parse(pattern)
	if err != nil {
		return nil, err
	}
	return &TemplateLayout{tmpl: t}, nil
}

// Render falls back to the raw message when the template fails.
func (l *TemplateLayout) Render(ev Event) string {
	var b strings.Builder
	if err := l.tmpl.Execute(&b, ev); err != nil {
		return ev.Message
	}
	return b.String()
}
