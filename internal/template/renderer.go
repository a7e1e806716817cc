package template

import (
	"bytes"
	"html/template"
)

// DefaultPayload renders the sender id and the escaped message body
const DefaultPayload = `<div class="message" data-from="{{ .From }}"><span class="from">{{ .From }}</span>: <span class="body">{{ .Body }}</span></div>`

// Renderer turns an outbound message into the payload pushed to a slot
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses tmpl once. An empty tmpl selects DefaultPayload.
func NewRenderer(tmpl string) (*Renderer, error) {
	if tmpl == "" {
		tmpl = DefaultPayload
	}
	t, err := template.New("payload").Funcs(funcMap()).Parse(tmpl)
	if err != nil {
		return nil, err
	}
	return &Renderer{tmpl: t}, nil
}

// Render executes the template with ctx
func (r *Renderer) Render(ctx *Context) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, ctx); err != nil {
		return "", err
	}
	return buf.String(), nil
}
