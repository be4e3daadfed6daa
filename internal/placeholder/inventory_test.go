package placeholder

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"  Mein Name  ", "mein_name"},
		{"Absender\tTelefon", "absender_telefon"},
		{"a   b \n c", "a_b_c"},
		{"ÜBER uns", "über_uns"},
		{"already_ok", "already_ok"},
		{"   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := Normalize(tt.raw); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestReconciler_Add(t *testing.T) {
	r := NewReconciler(DefaultRegistry())

	inv, added, err := r.Add(nil, "  Mein Name  ")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if added.Name != "mein_name" || added.Value != "" {
		t.Errorf("Add() added = %+v, want {mein_name }", added)
	}
	if diff := cmp.Diff(Inventory{{Name: "mein_name"}}, inv); diff != "" {
		t.Errorf("Add() inventory mismatch (-want +got):\n%s", diff)
	}

	inv = inv.UpdateValue("mein_name", "Tom")
	again, existing, err := r.Add(inv, "MEIN name")
	if !IsDuplicate(err) {
		t.Fatalf("Add() error = %v, want DuplicateNameError", err)
	}
	if existing.Value != "Tom" {
		t.Errorf("Add() duplicate returned %+v, want existing entry", existing)
	}
	if diff := cmp.Diff(inv, again); diff != "" {
		t.Errorf("Add() duplicate changed inventory (-want +got):\n%s", diff)
	}

	if _, _, err := r.Add(inv, "   "); !errors.Is(err, ErrEmptyName) {
		t.Errorf("Add() blank error = %v, want ErrEmptyName", err)
	}
}

func TestReconciler_AddReserved(t *testing.T) {
	reg := DefaultRegistry()
	r := NewReconciler(reg)
	inv := Inventory{{Name: "absender_name", Value: "Tom"}}

	for _, name := range append(reg.Names(), "  Person Vorname ", "FIRMA_NAME") {
		got, _, err := r.Add(inv, name)
		if !IsReserved(err) {
			t.Errorf("Add(%q) error = %v, want ReservedNameError", name, err)
		}
		if diff := cmp.Diff(inv, got); diff != "" {
			t.Errorf("Add(%q) changed inventory (-want +got):\n%s", name, diff)
		}
	}
}

func TestReconciler_AddDoesNotAlias(t *testing.T) {
	r := NewReconciler(DefaultRegistry())
	base := make(Inventory, 1, 4)
	base[0] = Custom{Name: "a"}

	x, _, _ := r.Add(base, "x")
	y, _, _ := r.Add(base, "y")

	if x[1].Name != "x" || y[1].Name != "y" {
		t.Errorf("Add() results share backing storage: x=%v y=%v", x, y)
	}
	if len(base) != 1 {
		t.Errorf("Add() modified input, len = %d", len(base))
	}
}

func TestInventory_RemoveAndUpdate(t *testing.T) {
	inv := Inventory{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}

	removed := inv.Remove("a")
	if diff := cmp.Diff(Inventory{{Name: "b", Value: "2"}}, removed); diff != "" {
		t.Errorf("Remove() mismatch (-want +got):\n%s", diff)
	}
	if len(inv) != 2 {
		t.Error("Remove() modified input")
	}

	if diff := cmp.Diff(inv, inv.Remove("missing")); diff != "" {
		t.Errorf("Remove(missing) changed inventory:\n%s", diff)
	}

	updated := inv.UpdateValue("b", "zwei")
	if updated[1].Value != "zwei" || inv[1].Value != "2" {
		t.Errorf("UpdateValue() = %v, input %v", updated, inv)
	}

	if diff := cmp.Diff(inv, inv.UpdateValue("missing", "x")); diff != "" {
		t.Errorf("UpdateValue(missing) changed inventory:\n%s", diff)
	}
}

func TestReconciler_Sync(t *testing.T) {
	r := NewReconciler(DefaultRegistry())

	inv := r.Sync(nil, "Betreff {{absender_name}}", "Hallo {{person_vorname}}, {{absender_telefon}} {{absender_name}}")
	want := Inventory{{Name: "absender_name"}, {Name: "absender_telefon"}}
	if diff := cmp.Diff(want, inv); diff != "" {
		t.Errorf("Sync() mismatch (-want +got):\n%s", diff)
	}

	// Idempotent on the same text.
	if diff := cmp.Diff(inv, r.Sync(inv, "Betreff {{absender_name}}", "{{absender_telefon}}")); diff != "" {
		t.Errorf("Sync() not idempotent:\n%s", diff)
	}
}

func TestReconciler_SyncPreservesValues(t *testing.T) {
	r := NewReconciler(DefaultRegistry())
	inv := Inventory{{Name: "x", Value: "v"}}

	// Token disappears from the text while the user edits.
	inv = r.Sync(inv, "Hallo")
	if diff := cmp.Diff(Inventory{{Name: "x", Value: "v"}}, inv); diff != "" {
		t.Fatalf("Sync() dropped entry (-want +got):\n%s", diff)
	}

	// And comes back.
	inv = r.Sync(inv, "Hallo {{x}}")
	if diff := cmp.Diff(Inventory{{Name: "x", Value: "v"}}, inv); diff != "" {
		t.Errorf("Sync() recreated entry (-want +got):\n%s", diff)
	}
}

func TestReconciler_Missing(t *testing.T) {
	r := NewReconciler(DefaultRegistry())
	inv := Inventory{{Name: "a"}}

	got := r.Missing(inv, "{{a}} {{b}} {{firma_name}} {{c}}")
	if diff := cmp.Diff([]string{"b", "c"}, got); diff != "" {
		t.Errorf("Missing() mismatch (-want +got):\n%s", diff)
	}
}
