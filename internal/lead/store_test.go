package lead

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/xuri/excelize/v2"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "leads.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_CreateAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	lead := &Lead{
		Email:      " anna@example.com ",
		Attributes: map[string]string{"person_vorname": "Anna", "firma_name": "Acme"},
	}
	if err := store.Create(ctx, lead); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if lead.ID == "" {
		t.Fatal("Create() did not set ID")
	}

	got, err := store.Get(ctx, lead.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Email != "anna@example.com" {
		t.Errorf("Email = %q", got.Email)
	}
	if diff := cmp.Diff(lead.Attributes, got.Attributes); diff != "" {
		t.Errorf("attributes mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_CreateReplacesByEmail(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := &Lead{Email: "tom@example.com", Attributes: map[string]string{"ortschaft": "Bonn", "firma_name": "A"}}
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	second := &Lead{Email: "tom@example.com", Attributes: map[string]string{"ortschaft": "Köln"}}
	if err := store.Create(ctx, second); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("ID changed on replace: %s -> %s", first.ID, second.ID)
	}

	got, _ := store.Get(ctx, first.ID)
	if diff := cmp.Diff(map[string]string{"ortschaft": "Köln"}, got.Attributes); diff != "" {
		t.Errorf("attributes mismatch (-want +got):\n%s", diff)
	}

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestStore_CreateRequiresEmail(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Create(context.Background(), &Lead{Email: "  "}); err == nil {
		t.Error("Create() without email succeeded")
	}
}

func TestStore_GetNotFound(t *testing.T) {
	store := setupTestStore(t)

	got, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("Get() = %+v, want nil", got)
	}
}

func TestStore_List(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, l := range []*Lead{
		{Email: "c@example.com", Attributes: map[string]string{"firma_name": "Gamma"}},
		{Email: "a@example.com", Attributes: map[string]string{"firma_name": "Alpha"}},
		{Email: "b@example.com"},
	} {
		if err := store.Create(ctx, l); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter ListFilter
		want   []string
	}{
		{"all", ListFilter{}, []string{"a@example.com", "b@example.com", "c@example.com"}},
		{"limit", ListFilter{Limit: 1}, []string{"a@example.com"}},
		{"limit offset", ListFilter{Limit: 1, Offset: 1}, []string{"b@example.com"}},
		{"offset only", ListFilter{Offset: 2}, []string{"c@example.com"}},
		{"search email", ListFilter{Search: "b@"}, []string{"b@example.com"}},
		{"search field", ListFilter{Search: "Gamma"}, []string{"c@example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			leads, err := store.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			emails := make([]string, len(leads))
			for i, l := range leads {
				emails[i] = l.Email
				if l.Attributes == nil {
					t.Errorf("lead %s has nil attributes", l.Email)
				}
			}
			if diff := cmp.Diff(tt.want, emails); diff != "" {
				t.Errorf("List() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStore_Delete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	lead := &Lead{Email: "x@example.com", Attributes: map[string]string{"k": "v"}}
	store.Create(ctx, lead)

	if err := store.Delete(ctx, lead.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got, _ := store.Get(ctx, lead.ID); got != nil {
		t.Error("lead still present after Delete()")
	}

	var n int
	store.db.QueryRow("SELECT COUNT(*) FROM lead_fields").Scan(&n)
	if n != 0 {
		t.Errorf("lead_fields rows = %d, want 0 after cascade", n)
	}
}

func TestLead_Fields(t *testing.T) {
	l := &Lead{Email: "a@b.de", Attributes: map[string]string{"person_vorname": "Anna"}}

	want := map[string]string{"email": "a@b.de", "person_vorname": "Anna"}
	if diff := cmp.Diff(want, l.Fields()); diff != "" {
		t.Errorf("Fields() mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_ImportCSV(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	data := "E-Mail,Person Vorname,Firma Name\n" +
		"anna@example.com,Anna,Acme\n" +
		",Leer,Nix\n" +
		"tom@example.com,Tom\n"

	result, err := store.ImportCSV(ctx, strings.NewReader(data))
	if err != nil {
		t.Fatalf("ImportCSV() error = %v", err)
	}

	want := &ImportResult{Total: 3, Imported: 2, Skipped: 1}
	if diff := cmp.Diff(want, result); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}

	leads, _ := store.List(ctx, ListFilter{})
	got := map[string]map[string]string{}
	for _, l := range leads {
		got[l.Email] = l.Attributes
	}
	wantLeads := map[string]map[string]string{
		"anna@example.com": {"person_vorname": "Anna", "firma_name": "Acme"},
		"tom@example.com":  {"person_vorname": "Tom"},
	}
	if diff := cmp.Diff(wantLeads, got); diff != "" {
		t.Errorf("leads mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_ImportMissingEmailColumn(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.ImportCSV(context.Background(), strings.NewReader("name\nAnna\n")); err == nil {
		t.Error("ImportCSV() without email column succeeded")
	}
	if _, err := store.ImportCSV(context.Background(), strings.NewReader("")); err == nil {
		t.Error("ImportCSV() of empty input succeeded")
	}
}

func TestStore_ImportXLSX(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "leads.xlsx")
	f := excelize.NewFile()
	rows := [][]any{
		{"email", "person_vorname", "Ortschaft"},
		{"anna@example.com", "Anna", "Bonn"},
		{"bert@example.com", "Bert"},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("SetSheetRow() error = %v", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs() error = %v", err)
	}
	f.Close()

	result, err := store.ImportXLSX(ctx, path, "")
	if err != nil {
		t.Fatalf("ImportXLSX() error = %v", err)
	}
	if result.Imported != 2 {
		t.Errorf("Imported = %d, want 2", result.Imported)
	}

	leads, _ := store.List(ctx, ListFilter{})
	if len(leads) != 2 {
		t.Fatalf("len(leads) = %d, want 2", len(leads))
	}
	want := &Lead{Email: "anna@example.com", Attributes: map[string]string{"person_vorname": "Anna", "ortschaft": "Bonn"}}
	if diff := cmp.Diff(want, leads[0], cmpopts.IgnoreFields(Lead{}, "ID", "CreatedAt", "UpdatedAt")); diff != "" {
		t.Errorf("lead mismatch (-want +got):\n%s", diff)
	}

	if _, err := store.ImportXLSX(ctx, path, "NoSuchSheet"); err == nil {
		t.Error("ImportXLSX() with unknown sheet succeeded")
	}
}
