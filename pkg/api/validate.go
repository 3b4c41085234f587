package api

import (
	"fmt"
	"strings"
)

const maxStringLen = 4096

// validateString bounds a free-form request string.
func validateString(field, value string) error {
	if len(value) > maxStringLen {
		return fmt.Errorf("field %q exceeds maximum length of %d", field, maxStringLen)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("field %q contains a null byte", field)
	}
	return nil
}

// validatePath additionally rejects parent-directory components, which
// have no legitimate use in workspace references.
func validatePath(field, value string) error {
	if err := validateString(field, value); err != nil {
		return err
	}
	for _, part := range strings.Split(value, "/") {
		if part == ".." {
			return fmt.Errorf("field %q must not contain parent-directory components", field)
		}
	}
	return nil
}
