// Package validator accumulates field errors for wire messages.
package validator

import (
	"fmt"
	"sort"
	"strings"
)

// Validator holds a map of validation errors keyed by field.
type Validator struct {
	Errors map[string]string
}

func New() *Validator {
	return &Validator{Errors: make(map[string]string)}
}

// Valid returns true if the validator has no errors.
func (v *Validator) Valid() bool {
	return len(v.Errors) == 0
}

// Check adds an error to the validator if a check is not "ok".
func (v *Validator) Check(ok bool, key, message string) {
	if !ok {
		v.AddError(key, message)
	}
}

// AddError adds an error to the validator if the key does not already exist.
func (v *Validator) AddError(key, message string) {
	if _, exists := v.Errors[key]; !exists {
		v.Errors[key] = message
	}
}

// Err returns nil when valid, otherwise a single error listing every field
// in key order.
func (v *Validator) Err() error {
	if v.Valid() {
		return nil
	}

	keys := make([]string, 0, len(v.Errors))
	for k := range v.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %s", k, v.Errors[k]))
	}
	return fmt.Errorf("failed validation: %s", strings.Join(parts, "; "))
}
