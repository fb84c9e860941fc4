package service

import (
	"fmt"
	"sync"

	"github.com/osteele/liquid"

	"member-intranet/internal/domain"
)

const (
	eventDateLayout = "January 2, 2006"
	eventTimeLayout = "15:04"
)

// templateRenderer renders mass-mail subjects and bodies. Parsed templates
// are cached by source text since one job renders the same two templates
// for every recipient.
type templateRenderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

func newTemplateRenderer() *templateRenderer {
	return &templateRenderer{engine: liquid.NewEngine()}
}

// Validate reports template syntax errors before anything is persisted.
func (r *templateRenderer) Validate(field, source string) error {
	if _, err := r.parse(source); err != nil {
		return &domain.ValidationError{Field: field, Message: fmt.Sprintf("invalid template: %v", err), Err: err}
	}
	return nil
}

func (r *templateRenderer) Render(source string, bindings liquid.Bindings) (string, error) {
	tpl, err := r.parse(source)
	if err != nil {
		return "", err
	}
	out, rerr := tpl.RenderString(bindings)
	if rerr != nil {
		return "", rerr
	}
	return out, nil
}

func (r *templateRenderer) parse(source string) (*liquid.Template, error) {
	if cached, ok := r.cache.Load(source); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := r.engine.ParseString(source)
	if err != nil {
		return nil, err
	}
	r.cache.Store(source, tpl)
	return tpl, nil
}

// recipientBindings builds the placeholder values for one recipient.
// Event placeholders are present only when the job references an existing event.
func recipientBindings(rcpt domain.MassMailRecipient, event *domain.Event) liquid.Bindings {
	name := rcpt.FullName()
	salutation := "Dear member"
	if name != "" {
		salutation = "Dear " + name
	}

	b := liquid.Bindings{
		"first_name": rcpt.FirstName,
		"last_name":  rcpt.LastName,
		"name":       name,
		"email":      rcpt.Email,
		"salutation": salutation,
	}
	if event != nil {
		b["event_title"] = event.Title
		b["event_date"] = event.StartTime.Format(eventDateLayout)
		b["event_time"] = event.StartTime.Format(eventTimeLayout)
		b["event_location"] = event.Location
		b["event_link"] = event.RegistrationLink
	}
	return b
}
