package utils

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// Eval request limits
const (
	MaxScriptSize   = 1 * 1024 * 1024 // 1MB - maximum script source size
	MaxGlobals      = 256             // injected names per eval
	MaxGlobalsDepth = 32              // nesting depth of a global's value
	MaxNameLength   = 128
)

// IdentifierPattern matches names that can be installed as script globals
var IdentifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// ValidateScript checks a script's size and encoding
func ValidateScript(script string) error {
	if len(script) > MaxScriptSize {
		return fmt.Errorf("script size %d bytes exceeds maximum %d bytes", len(script), MaxScriptSize)
	}
	if !utf8.ValidString(script) {
		return fmt.Errorf("script must be valid UTF-8")
	}
	return nil
}

// ValidateGlobals checks the names and shape of values to inject before an
// eval
func ValidateGlobals(globals map[string]any) error {
	if len(globals) > MaxGlobals {
		return fmt.Errorf("%d globals exceeds maximum %d", len(globals), MaxGlobals)
	}
	for name, value := range globals {
		if err := ValidateIdentifier(name); err != nil {
			return err
		}
		if err := ValidateJSONDepth(value, MaxGlobalsDepth); err != nil {
			return fmt.Errorf("global %s: %w", name, err)
		}
	}
	return nil
}

// ValidateIdentifier checks that name can be used as a global binding
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("global name is required")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("global name must be at most %d characters", MaxNameLength)
	}
	if !IdentifierPattern.MatchString(name) {
		return fmt.Errorf("global name %q is not a valid identifier", name)
	}
	return nil
}

// ValidateJSONDepth checks if JSON nesting depth is within limits
func ValidateJSONDepth(data any, maxDepth int) error {
	return checkDepth(data, 0, maxDepth)
}

func checkDepth(data any, currentDepth int, maxDepth int) error {
	if currentDepth > maxDepth {
		return fmt.Errorf("nesting depth %d exceeds maximum %d", currentDepth, maxDepth)
	}

	switch v := data.(type) {
	case map[string]any:
		for _, value := range v {
			if err := checkDepth(value, currentDepth+1, maxDepth); err != nil {
				return err
			}
		}
	case []any:
		for _, value := range v {
			if err := checkDepth(value, currentDepth+1, maxDepth); err != nil {
				return err
			}
		}
	}

	return nil
}
