package errors

import (
	goerrors "errors"
	"reflect"
	"strings"
)

// Classify derives a low-cardinality error class for the error_class tag on
// job failure metrics and alert payloads. The innermost concrete type wins,
// lowercased with package dots turned into underscores.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	// Wrapped repository errors all look like fmt.wrapError at the surface.
	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), "*", ""))
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}
