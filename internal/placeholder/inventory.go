package placeholder

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Custom is a user-defined placeholder with its entered value
type Custom struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Inventory is the ordered list of custom placeholders of one template.
// Every operation returns a fresh slice; the receiver is never modified.
type Inventory []Custom

var lower = cases.Lower(language.Und)

// Normalize turns a user-typed name into a placeholder name: trimmed,
// lowercased, internal whitespace runs collapsed to a single underscore.
func Normalize(raw string) string {
	return strings.Join(strings.Fields(lower.String(raw)), "_")
}

// Clone returns a copy of the inventory. A nil inventory clones to an empty one.
func (inv Inventory) Clone() Inventory {
	out := make(Inventory, len(inv))
	copy(out, inv)
	return out
}

// Index returns the position of name or -1
func (inv Inventory) Index(name string) int {
	for i, c := range inv {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Has reports whether name is tracked
func (inv Inventory) Has(name string) bool {
	return inv.Index(name) >= 0
}

// Names returns the tracked names in order
func (inv Inventory) Names() []string {
	names := make([]string, len(inv))
	for i, c := range inv {
		names[i] = c.Name
	}
	return names
}

// Values returns the inventory as a name -> value map
func (inv Inventory) Values() map[string]string {
	values := make(map[string]string, len(inv))
	for _, c := range inv {
		values[c.Name] = c.Value
	}
	return values
}

// Remove deletes name; removing an absent name is not an error
func (inv Inventory) Remove(name string) Inventory {
	out := make(Inventory, 0, len(inv))
	for _, c := range inv {
		if c.Name != name {
			out = append(out, c)
		}
	}
	return out
}

// UpdateValue sets the value of an existing entry; absent names are ignored
func (inv Inventory) UpdateValue(name, value string) Inventory {
	out := inv.Clone()
	if i := out.Index(name); i >= 0 {
		out[i].Value = value
	}
	return out
}

// Reconciler keeps an inventory consistent with explicit edits and with the
// tokens found in template text.
type Reconciler struct {
	registry *Registry
}

// NewReconciler creates a reconciler bound to the auto placeholder registry
func NewReconciler(registry *Registry) *Reconciler {
	return &Reconciler{registry: registry}
}

// Registry returns the registry the reconciler classifies against
func (r *Reconciler) Registry() *Registry {
	return r.registry
}

// Add normalizes raw and appends it with an empty value. On any error the
// returned inventory equals the input.
func (r *Reconciler) Add(inv Inventory, raw string) (Inventory, Custom, error) {
	name := Normalize(raw)
	if name == "" {
		return inv.Clone(), Custom{}, ErrEmptyName
	}
	if r.registry.IsAuto(name) {
		return inv.Clone(), Custom{}, &ReservedNameError{Name: name}
	}
	if i := inv.Index(name); i >= 0 {
		return inv.Clone(), inv[i], &DuplicateNameError{Name: name}
	}

	added := Custom{Name: name}
	out := make(Inventory, len(inv), len(inv)+1)
	copy(out, inv)
	return append(out, added), added, nil
}

// Sync appends every non-auto token found in texts that is not tracked yet.
// Tracked entries are never dropped, even when their token is no longer in
// the text; only Remove deletes entries.
func (r *Reconciler) Sync(inv Inventory, texts ...string) Inventory {
	out := inv.Clone()
	for _, name := range ExtractAll(texts...) {
		if r.registry.IsAuto(name) || out.Has(name) {
			continue
		}
		out = append(out, Custom{Name: name})
	}
	return out
}

// Missing returns the non-auto tokens of texts that the inventory does not track
func (r *Reconciler) Missing(inv Inventory, texts ...string) []string {
	var missing []string
	for _, name := range ExtractAll(texts...) {
		if !r.registry.IsAuto(name) && !inv.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}
