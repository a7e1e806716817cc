package template

import "time"

// Context is the data a payload template is executed with
type Context struct {
	From   string    `json:"from"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at"`
}

// NewContext creates a template context stamped with the current time
func NewContext(from, body string) *Context {
	return &Context{
		From:   from,
		Body:   body,
		SentAt: time.Now(),
	}
}
