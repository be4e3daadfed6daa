package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/foxzi/leadmail/internal/lead"
	"github.com/foxzi/leadmail/internal/placeholder"
	"github.com/foxzi/leadmail/internal/template"
)

func strPtr(s string) *string { return &s }

func createTemplate(t *testing.T, env *testEnv, req TemplateRequest) *TemplateResponse {
	t.Helper()
	w := env.do(t, "POST", "/api/v1/templates", req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: Status = %d, want %d. Body: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	return decodeBody[*TemplateResponse](t, w)
}

func introRequest() TemplateRequest {
	return TemplateRequest{
		Name:         strPtr("Intro"),
		Subject:      strPtr("Frage an {{firma_name}}"),
		BodyTemplate: strPtr("Hallo {{person_vorname}}, ich bin {{absender_vorname}}"),
		CustomPlaceholders: []placeholder.Custom{
			{Name: "absender_vorname", Value: "Tom"},
		},
	}
}

func TestCreateTemplate(t *testing.T) {
	env := setupTestServer(t, "")

	resp := createTemplate(t, env, introRequest())

	if resp.ID == "" {
		t.Error("ID should not be empty")
	}
	want := placeholder.Inventory{{Name: "absender_vorname", Value: "Tom"}}
	if diff := cmp.Diff(want, resp.CustomPlaceholders); diff != "" {
		t.Errorf("CustomPlaceholders mismatch (-want +got):\n%s", diff)
	}
	if resp.Subject == nil || *resp.Subject != "Frage an {{firma_name}}" {
		t.Errorf("Subject = %v", resp.Subject)
	}

	stored, err := env.templates.Get(context.Background(), resp.ID)
	if err != nil || stored == nil {
		t.Fatalf("Get() = %v, %v", stored, err)
	}
	if stored.Name != "Intro" {
		t.Errorf("stored Name = %q, want Intro", stored.Name)
	}
}

func TestCreateTemplateTracksBodyTokens(t *testing.T) {
	env := setupTestServer(t, "")

	resp := createTemplate(t, env, TemplateRequest{
		Name:         strPtr("Follow-up"),
		BodyTemplate: strPtr("{{gruss}} {{person_vorname}}, {{signatur}}"),
	})

	want := placeholder.Inventory{{Name: "gruss"}, {Name: "signatur"}}
	if diff := cmp.Diff(want, resp.CustomPlaceholders); diff != "" {
		t.Errorf("CustomPlaceholders mismatch (-want +got):\n%s", diff)
	}
	if resp.Subject != nil {
		t.Errorf("Subject = %q, want null", *resp.Subject)
	}
}

func TestCreateTemplateErrors(t *testing.T) {
	env := setupTestServer(t, "")

	tests := []struct {
		name      string
		req       TemplateRequest
		wantCode  int
		wantField string
	}{
		{
			name:      "missing name",
			req:       TemplateRequest{BodyTemplate: strPtr("Hallo")},
			wantCode:  http.StatusBadRequest,
			wantField: "name",
		},
		{
			name:      "blank body",
			req:       TemplateRequest{Name: strPtr("X"), BodyTemplate: strPtr("   ")},
			wantCode:  http.StatusBadRequest,
			wantField: "body_template",
		},
		{
			name: "reserved placeholder",
			req: TemplateRequest{
				Name:               strPtr("X"),
				BodyTemplate:       strPtr("Hallo"),
				CustomPlaceholders: []placeholder.Custom{{Name: "Firma Name"}},
			},
			wantCode:  http.StatusUnprocessableEntity,
			wantField: "name",
		},
		{
			name: "invalid sender email",
			req: TemplateRequest{
				Name:               strPtr("X"),
				BodyTemplate:       strPtr("{{absender_email}}"),
				CustomPlaceholders: []placeholder.Custom{{Name: "absender_email", Value: "nope"}},
			},
			wantCode:  http.StatusBadRequest,
			wantField: "absender_email",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/api/v1/templates", tt.req)
			if w.Code != tt.wantCode {
				t.Fatalf("Status = %d, want %d. Body: %s", w.Code, tt.wantCode, w.Body.String())
			}
			resp := decodeBody[ErrorResponse](t, w)
			if resp.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", resp.Field, tt.wantField)
			}
		})
	}

	stats, _ := env.templates.Stats(context.Background())
	if stats.Total != 0 {
		t.Errorf("stored %d templates after failed creates, want 0", stats.Total)
	}
}

func TestGetTemplate(t *testing.T) {
	env := setupTestServer(t, "")
	created := createTemplate(t, env, introRequest())

	for _, key := range []string{created.ID, "Intro"} {
		w := env.do(t, "GET", "/api/v1/templates/"+key, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s: Status = %d, want %d", key, w.Code, http.StatusOK)
		}
		if got := decodeBody[*TemplateResponse](t, w); got.ID != created.ID {
			t.Errorf("GET %s: ID = %q, want %q", key, got.ID, created.ID)
		}
	}
}

func TestTemplateNotFound(t *testing.T) {
	env := setupTestServer(t, "")
	missing := "/api/v1/templates/00000000-0000-0000-0000-000000000000"

	tests := []struct {
		method string
		path   string
		body   any
	}{
		{"GET", missing, nil},
		{"PUT", missing, TemplateRequest{Name: strPtr("X")}},
		{"POST", missing + "/placeholders", PlaceholderRequest{Name: "x"}},
		{"POST", missing + "/preview", PreviewRequest{}},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.body)
			if w.Code != http.StatusNotFound {
				t.Errorf("Status = %d, want %d", w.Code, http.StatusNotFound)
			}
		})
	}
}

func TestUpdateTemplate(t *testing.T) {
	env := setupTestServer(t, "")
	created := createTemplate(t, env, introRequest())

	w := env.do(t, "PUT", "/api/v1/templates/"+created.ID, TemplateRequest{
		BodyTemplate: strPtr("Hallo {{person_vorname}}, {{absender_vorname}} von {{absender_name}}"),
		CustomPlaceholders: []placeholder.Custom{
			{Name: "absender_name", Value: "Acme"},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d. Body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	resp := decodeBody[*TemplateResponse](t, w)
	if resp.Name != "Intro" {
		t.Errorf("Name = %q, want unchanged Intro", resp.Name)
	}
	want := placeholder.Inventory{
		{Name: "absender_vorname", Value: "Tom"},
		{Name: "absender_name", Value: "Acme"},
	}
	if diff := cmp.Diff(want, resp.CustomPlaceholders); diff != "" {
		t.Errorf("CustomPlaceholders mismatch (-want +got):\n%s", diff)
	}
	if !resp.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("CreatedAt changed: %v != %v", resp.CreatedAt, created.CreatedAt)
	}
}

func TestDeleteTemplate(t *testing.T) {
	env := setupTestServer(t, "")
	created := createTemplate(t, env, introRequest())

	for i := 0; i < 2; i++ {
		w := env.do(t, "DELETE", "/api/v1/templates/"+created.ID, nil)
		if w.Code != http.StatusNoContent {
			t.Fatalf("delete #%d: Status = %d, want %d", i+1, w.Code, http.StatusNoContent)
		}
	}

	w := env.do(t, "GET", "/api/v1/templates/"+created.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestTemplateByName(t *testing.T) {
	env := setupTestServer(t, "")
	created := createTemplate(t, env, introRequest())

	w := env.do(t, "PUT", "/api/v1/templates/Intro", TemplateRequest{Subject: strPtr("Neu bei {{firma_name}}")})
	if w.Code != http.StatusOK {
		t.Fatalf("PUT by name: Status = %d, want %d. Body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	resp := decodeBody[*TemplateResponse](t, w)
	if resp.ID != created.ID {
		t.Errorf("PUT by name: ID = %q, want %q", resp.ID, created.ID)
	}
	if resp.Subject == nil || *resp.Subject != "Neu bei {{firma_name}}" {
		t.Errorf("PUT by name: Subject = %v", resp.Subject)
	}

	w = env.do(t, "PUT", "/api/v1/templates/Intro/placeholders/absender_vorname", PlaceholderRequest{Value: "Anna"})
	if w.Code != http.StatusOK {
		t.Fatalf("set placeholder by name: Status = %d, want %d. Body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	w = env.do(t, "DELETE", "/api/v1/templates/Intro", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("DELETE by name: Status = %d, want %d", w.Code, http.StatusNoContent)
	}

	stored, err := env.templates.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored != nil {
		t.Error("DELETE by name left the template in storage")
	}

	w = env.do(t, "GET", "/api/v1/templates/Intro", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("GET after delete: Status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestListTemplates(t *testing.T) {
	env := setupTestServer(t, "")
	for _, name := range []string{"Zeta", "Alpha", "Mitte"} {
		createTemplate(t, env, TemplateRequest{Name: strPtr(name), BodyTemplate: strPtr("Hallo")})
	}

	w := env.do(t, "GET", "/api/v1/templates?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeBody[TemplateListResponse](t, w)
	var names []string
	for _, tmpl := range resp.Templates {
		names = append(names, tmpl.Name)
	}
	if diff := cmp.Diff([]string{"Alpha", "Mitte"}, names); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestAddPlaceholder(t *testing.T) {
	env := setupTestServer(t, "")
	created := createTemplate(t, env, introRequest())
	path := "/api/v1/templates/" + created.ID + "/placeholders"

	w := env.do(t, "POST", path, PlaceholderRequest{Name: "Absender Telefon", Value: "0123"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Status = %d, want %d. Body: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	resp := decodeBody[PlaceholderResponse](t, w)
	if resp.Placeholder != (placeholder.Custom{Name: "absender_telefon", Value: "0123"}) {
		t.Errorf("Placeholder = %+v", resp.Placeholder)
	}
	if resp.Template == nil || !resp.Template.CustomPlaceholders.Has("absender_telefon") {
		t.Errorf("saved template does not track absender_telefon: %+v", resp.Template)
	}

	tests := []struct {
		name     string
		raw      string
		wantCode int
	}{
		{"duplicate", "absender_vorname", http.StatusOK},
		{"reserved", "ortschaft", http.StatusUnprocessableEntity},
		{"empty", "   ", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", path, PlaceholderRequest{Name: tt.raw})
			if w.Code != tt.wantCode {
				t.Fatalf("Status = %d, want %d. Body: %s", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}

	w = env.do(t, "POST", path, PlaceholderRequest{Name: "absender_vorname"})
	dup := decodeBody[PlaceholderResponse](t, w)
	if !dup.Duplicate || dup.Placeholder.Value != "Tom" {
		t.Errorf("duplicate response = %+v, want existing entry", dup)
	}
}

func TestSetPlaceholder(t *testing.T) {
	env := setupTestServer(t, "")
	created := createTemplate(t, env, introRequest())

	w := env.do(t, "PUT", "/api/v1/templates/"+created.ID+"/placeholders/absender_vorname", PlaceholderRequest{Value: "Anna"})
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodeBody[*TemplateResponse](t, w)
	if diff := cmp.Diff(placeholder.Inventory{{Name: "absender_vorname", Value: "Anna"}}, resp.CustomPlaceholders); diff != "" {
		t.Errorf("CustomPlaceholders mismatch (-want +got):\n%s", diff)
	}

	w = env.do(t, "PUT", "/api/v1/templates/"+created.ID+"/placeholders/unbekannt", PlaceholderRequest{Value: "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown placeholder: Status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRemovePlaceholder(t *testing.T) {
	env := setupTestServer(t, "")
	req := introRequest()
	req.CustomPlaceholders = append(req.CustomPlaceholders, placeholder.Custom{Name: "ungenutzt", Value: "x"})
	created := createTemplate(t, env, req)
	base := "/api/v1/templates/" + created.ID + "/placeholders/"

	w := env.do(t, "DELETE", base+"ungenutzt", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := decodeBody[*TemplateResponse](t, w); got.CustomPlaceholders.Has("ungenutzt") {
		t.Error("unused placeholder should be removed")
	}

	// still referenced by the body, so the save tracks it again with an empty value
	w = env.do(t, "DELETE", base+"absender_vorname", nil)
	got := decodeBody[*TemplateResponse](t, w)
	if diff := cmp.Diff(placeholder.Inventory{{Name: "absender_vorname"}}, got.CustomPlaceholders); diff != "" {
		t.Errorf("CustomPlaceholders mismatch (-want +got):\n%s", diff)
	}
}

func TestImportTemplateLegacy(t *testing.T) {
	env := setupTestServer(t, "")

	rec := template.Record{
		Name:         "Alt",
		BodyTemplate: "Hallo {{person_vorname}}, {{absender_vorname}}",
		ManualFields: json.RawMessage(`{"absender_email":"tom@example.com","absender_vorname":"Tom"}`),
	}
	w := env.do(t, "POST", "/api/v1/templates/import", rec)
	if w.Code != http.StatusCreated {
		t.Fatalf("Status = %d, want %d. Body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	resp := decodeBody[*TemplateResponse](t, w)
	want := placeholder.Inventory{
		{Name: "absender_vorname", Value: "Tom"},
		{Name: "absender_email", Value: "tom@example.com"},
	}
	if diff := cmp.Diff(want, resp.CustomPlaceholders); diff != "" {
		t.Errorf("CustomPlaceholders mismatch (-want +got):\n%s", diff)
	}
}

func TestPreview(t *testing.T) {
	env := setupTestServer(t, "")
	created := createTemplate(t, env, introRequest())

	w := env.do(t, "POST", "/api/v1/templates/"+created.ID+"/preview", PreviewRequest{
		Lead: map[string]string{"person_vorname": "Anna", "firma_name": "Acme"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeBody[PreviewResponse](t, w)
	if resp.Body != "Hallo Anna, ich bin Tom" {
		t.Errorf("Body = %q", resp.Body)
	}
	if resp.Subject != "Frage an Acme" {
		t.Errorf("Subject = %q", resp.Subject)
	}
}

func TestPreviewWithStoredLead(t *testing.T) {
	env := setupTestServer(t, "")
	created := createTemplate(t, env, introRequest())

	l := &lead.Lead{Email: "anna@acme.example", Attributes: map[string]string{"person_vorname": "Anna"}}
	if err := env.leads.Create(context.Background(), l); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	w := env.do(t, "POST", "/api/v1/templates/"+created.ID+"/preview", PreviewRequest{
		LeadID: l.ID,
		Values: map[string]string{"absender_vorname": "Jan"},
	})
	resp := decodeBody[PreviewResponse](t, w)
	if resp.Body != "Hallo Anna, ich bin Jan" {
		t.Errorf("Body = %q", resp.Body)
	}
}

func TestSendTemplate(t *testing.T) {
	env := setupTestServer(t, "")
	created := createTemplate(t, env, introRequest())

	ctx := context.Background()
	for _, l := range []*lead.Lead{
		{Email: "anna@acme.example", Attributes: map[string]string{"person_vorname": "Anna", "firma_name": "Acme"}},
		{Email: "ben@beta.example", Attributes: map[string]string{"person_vorname": "Ben", "firma_name": "Beta"}},
		{Email: "bounce@gamma.example", Attributes: map[string]string{}},
	} {
		if err := env.leads.Create(ctx, l); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	env.sender.fail["bounce@gamma.example"] = true

	w := env.do(t, "POST", "/api/v1/templates/"+created.ID+"/send", SendRequest{})
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d. Body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	resp := decodeBody[SendResponse](t, w)
	if resp.Total != 3 || resp.Sent != 2 || resp.Failed != 1 {
		t.Errorf("SendResponse = %+v, want 3 total, 2 sent, 1 failed", resp)
	}

	bodies := map[string]string{}
	for _, msg := range env.sender.messages {
		bodies[msg.To] = msg.Body
		if msg.From != "Tom <tom@example.com>" {
			t.Errorf("From = %q, want default sender", msg.From)
		}
	}
	if bodies["ben@beta.example"] != "Hallo Ben, ich bin Tom" {
		t.Errorf("body for ben = %q", bodies["ben@beta.example"])
	}
}

func TestSendTemplateNoLeads(t *testing.T) {
	env := setupTestServer(t, "")
	created := createTemplate(t, env, introRequest())

	w := env.do(t, "POST", "/api/v1/templates/"+created.ID+"/send", SendRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
