package render

import (
	"reflect"
	"testing"
	"time"

	"github.com/thephotocrm/thephotocrm-sub005/internal/models"
)

func TestRenderTemplate(t *testing.T) {
	vars := map[string]string{"first_name": "Ana", "business_name": "Lumen"}

	tests := []struct {
		name     string
		template string
		escape   bool
		want     string
	}{
		{"simple", "Hi {{first_name}}", false, "Hi Ana"},
		{"spaces", "Hi {{ first_name }}!", false, "Hi Ana!"},
		{"unknown kept", "Hi {{nickname}}", false, "Hi {{nickname}}"},
		{"multiple", "{{first_name}} x {{business_name}}", false, "Ana x Lumen"},
		{"empty", "", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := renderTemplate(tt.template, vars, tt.escape); got != tt.want {
				t.Errorf("renderTemplate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderEscapesHTML(t *testing.T) {
	r := New(Branding{BusinessName: "Tom & Jerry Photo"}, time.UTC)
	vars := r.Vars(nil, nil)

	out := r.Render(Content{
		Subject: "From {{business_name}}",
		HTML:    "<p>{{business_name}}</p>",
		Text:    "{{business_name}}",
	}, vars)

	if out.Subject != "From Tom & Jerry Photo" {
		t.Errorf("Subject = %q", out.Subject)
	}
	if out.HTML != "<p>Tom &amp; Jerry Photo</p>" {
		t.Errorf("HTML = %q", out.HTML)
	}
	if out.Text != "Tom & Jerry Photo" {
		t.Errorf("Text = %q", out.Text)
	}
}

func TestVars(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}
	event := time.Date(2026, 6, 14, 2, 0, 0, 0, time.UTC)
	subject := &models.Subject{
		ID:        "subj-1",
		FirstName: "Ana",
		LastName:  "Silva",
		Email:     "ana@example.com",
		EventDate: &event,
	}
	r := New(Branding{
		BusinessName:   "Lumen",
		UnsubscribeURL: "https://lumen.example/u/{{subscription_id}}",
	}, loc)

	vars := r.Vars(subject, map[string]string{"subscription_id": "sub-9", "first_name": "Annie"})

	if vars["first_name"] != "Annie" {
		t.Errorf("extra vars should win, got first_name %q", vars["first_name"])
	}
	if vars["full_name"] != "Ana Silva" {
		t.Errorf("full_name = %q", vars["full_name"])
	}
	// 02:00 UTC is the previous evening in New York
	if vars["event_date"] != "June 13, 2026" {
		t.Errorf("event_date = %q", vars["event_date"])
	}
	if vars["unsubscribe_url"] != "https://lumen.example/u/sub-9" {
		t.Errorf("unsubscribe_url = %q", vars["unsubscribe_url"])
	}
}

func TestUnresolved(t *testing.T) {
	vars := map[string]string{"first_name": "Ana"}
	got := Unresolved("{{first_name}} {{venue}} {{ venue }} {{gallery_url}}", vars)
	want := []string{"venue", "gallery_url"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Unresolved() = %v, want %v", got, want)
	}
}
