package template

import (
	"testing"

	"github.com/foxzi/leadmail/internal/placeholder"
)

func TestRenderer_Render(t *testing.T) {
	r := NewRenderer(placeholder.DefaultRegistry())

	tmpl := &Template{
		Subject: strPtr("Frage an {{firma_name}}"),
		Body:    "Hallo {{person_vorname}}, ich bin {{my_name}}",
		Placeholders: placeholder.Inventory{
			{Name: "my_name", Value: "Tom"},
		},
	}
	lead := map[string]string{"person_vorname": "Anna", "firma_name": "Acme"}

	got := r.Render(tmpl, lead, tmpl.Values())
	if got.Body != "Hallo Anna, ich bin Tom" {
		t.Errorf("Body = %q", got.Body)
	}
	if got.Subject != "Frage an Acme" {
		t.Errorf("Subject = %q", got.Subject)
	}
	if tmpl.Body != "Hallo {{person_vorname}}, ich bin {{my_name}}" {
		t.Error("Render() modified the template")
	}
}

func TestRenderer_RenderText(t *testing.T) {
	r := NewRenderer(placeholder.DefaultRegistry())

	tests := []struct {
		name   string
		text   string
		lead   map[string]string
		custom map[string]string
		want   string
	}{
		{"no tokens", "plain text", nil, nil, "plain text"},
		{"missing keys", "{{person_vorname}}-{{x}}", nil, nil, "-"},
		{"auto not read from custom", "{{ortschaft}}", nil, map[string]string{"ortschaft": "Bonn"}, ""},
		{"custom not read from lead", "{{x}}", map[string]string{"x": "lead"}, nil, ""},
		{"repeated token", "{{x}}{{x}}", nil, map[string]string{"x": "ab"}, "abab"},
		{"unbalanced kept", "{{x} {{y}}", nil, map[string]string{"y": "Y"}, "{{x} Y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.RenderText(tt.text, tt.lead, tt.custom); got != tt.want {
				t.Errorf("RenderText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderer_NilSubject(t *testing.T) {
	r := NewRenderer(placeholder.DefaultRegistry())

	got := r.Render(&Template{Body: "b"}, nil, nil)
	if got.Subject != "" {
		t.Errorf("Subject = %q, want empty", got.Subject)
	}
}
