// Package render substitutes {{variable}} merge fields in message content.
package render

import (
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/thephotocrm/thephotocrm-sub005/internal/models"
)

// varPattern matches {{variable}} patterns
var varPattern = regexp.MustCompile(`\{\{\s*[a-zA-Z0-9_]+\s*\}\}`)

// Branding is the studio identity merged into every message
type Branding struct {
	BusinessName     string
	PhotographerName string
	Website          string
	Phone            string
	UnsubscribeURL   string // may contain {{subscription_id}}
}

// Content is a renderable message
type Content struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer fills merge fields from the branding and the subject
type Renderer struct {
	branding Branding
	loc      *time.Location
}

// New creates a renderer. Dates are formatted in loc.
func New(branding Branding, loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{branding: branding, loc: loc}
}

// Vars builds the merge variables for a subject with priority:
// extra > subject > branding
func (r *Renderer) Vars(subject *models.Subject, extra map[string]string) map[string]string {
	vars := map[string]string{
		"business_name":     r.branding.BusinessName,
		"photographer_name": r.branding.PhotographerName,
		"website":           r.branding.Website,
		"business_phone":    r.branding.Phone,
	}

	if subject != nil {
		vars["first_name"] = subject.FirstName
		vars["last_name"] = subject.LastName
		vars["full_name"] = subject.FullName()
		vars["email"] = subject.Email
		if subject.EventDate != nil {
			vars["event_date"] = subject.EventDate.In(r.loc).Format("January 2, 2006")
		}
	}

	for k, v := range extra {
		vars[k] = v
	}

	if r.branding.UnsubscribeURL != "" {
		if _, ok := vars["unsubscribe_url"]; !ok {
			vars["unsubscribe_url"] = renderTemplate(r.branding.UnsubscribeURL, vars, false)
		}
	}

	return vars
}

// Render substitutes vars into every part of c. Values merged into HTML are
// escaped.
func (r *Renderer) Render(c Content, vars map[string]string) Content {
	return Content{
		Subject: renderTemplate(c.Subject, vars, false),
		HTML:    renderTemplate(c.HTML, vars, true),
		Text:    renderTemplate(c.Text, vars, false),
	}
}

// Unresolved lists merge fields in s that vars does not define
func Unresolved(s string, vars map[string]string) []string {
	var missing []string
	seen := map[string]bool{}
	for _, match := range varPattern.FindAllString(s, -1) {
		name := varName(match)
		if _, ok := vars[name]; ok || seen[name] {
			continue
		}
		seen[name] = true
		missing = append(missing, name)
	}
	return missing
}

// renderTemplate substitutes {{variable}} patterns in template string
func renderTemplate(template string, vars map[string]string, escape bool) string {
	if template == "" {
		return template
	}

	return varPattern.ReplaceAllStringFunc(template, func(match string) string {
		if value, ok := vars[varName(match)]; ok {
			if escape {
				return html.EscapeString(value)
			}
			return value
		}
		// Keep original if variable not found
		return match
	})
}

func varName(match string) string {
	return strings.TrimSpace(match[2 : len(match)-2])
}
