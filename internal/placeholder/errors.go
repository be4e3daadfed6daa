package placeholder

import (
	"errors"
	"fmt"
)

// ErrEmptyName is returned when a candidate name normalizes to nothing
var ErrEmptyName = errors.New("placeholder name is empty")

// ReservedNameError is returned when a custom placeholder would shadow an
// auto placeholder. The inventory is left unchanged.
type ReservedNameError struct {
	Name string
}

func (e *ReservedNameError) Error() string {
	return fmt.Sprintf("placeholder %q is reserved for lead data", e.Name)
}

// DuplicateNameError reports that the name is already tracked. It is
// informational: the inventory is left unchanged and callers usually just
// tell the user.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("placeholder %q already exists", e.Name)
}

// IsDuplicate reports whether err is a *DuplicateNameError
func IsDuplicate(err error) bool {
	var de *DuplicateNameError
	return errors.As(err, &de)
}

// IsReserved reports whether err is a *ReservedNameError
func IsReserved(err error) bool {
	var re *ReservedNameError
	return errors.As(err, &re)
}
