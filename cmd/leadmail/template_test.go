package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/foxzi/leadmail/internal/app"
	"github.com/foxzi/leadmail/internal/config"
)

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		name    string
		items   []string
		want    [][2]string
		wantErr bool
	}{
		{
			name:  "pairs",
			items: []string{"absender_vorname=Tom", "gruss=Viele Grüße, bis bald"},
			want:  [][2]string{{"absender_vorname", "Tom"}, {"gruss", "Viele Grüße, bis bald"}},
		},
		{
			name:  "value with equals sign",
			items: []string{"link=https://example.com/?a=b"},
			want:  [][2]string{{"link", "https://example.com/?a=b"}},
		},
		{
			name:  "empty value",
			items: []string{"signatur="},
			want:  [][2]string{{"signatur", ""}},
		},
		{name: "missing equals", items: []string{"signatur"}, wantErr: true},
		{name: "missing name", items: []string{"=Tom"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAssignments(tt.items)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseAssignments() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("got[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestCommandsRegistered(t *testing.T) {
	for _, path := range [][]string{
		{"serve"},
		{"config", "validate"},
		{"template", "create"},
		{"template", "import-raw"},
		{"lead", "import"},
		{"send"},
		{"dkim", "keygen"},
	} {
		cmd, _, err := rootCmd.Find(path)
		if err != nil || cmd == rootCmd {
			t.Errorf("command %v not registered", path)
		}
	}
}

func TestDeleteTemplate(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(dir, "templates.db")
	cfg.Leads.Path = filepath.Join(dir, "leads.db")
	cfg.Logging.Level = "error"

	application, err := app.New(cfg)
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}
	defer application.Close()

	ctx := context.Background()
	session := application.NewSession()
	session.SetName("Intro")
	session.SetBody("Hallo {{person_vorname}}")
	created, err := session.Save(ctx)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	deleted, err := deleteTemplate(ctx, application, "Intro")
	if err != nil {
		t.Fatalf("deleteTemplate() by name error = %v", err)
	}
	if deleted.ID != created.ID {
		t.Errorf("deleted ID = %q, want %q", deleted.ID, created.ID)
	}

	stored, err := application.Templates().Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored != nil {
		t.Error("template still stored after delete by name")
	}

	if _, err := deleteTemplate(ctx, application, "Intro"); err == nil {
		t.Error("deleteTemplate() of missing template should fail")
	}
}
