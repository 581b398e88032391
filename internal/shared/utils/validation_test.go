package utils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func nested(depth int) any {
	var v any = "leaf"
	for i := 0; i < depth; i++ {
		v = []any{v}
	}
	return v
}

func TestValidateScript(t *testing.T) {
	assert.NoError(t, ValidateScript("1 + 1"))
	assert.ErrorContains(t, ValidateScript(strings.Repeat("x", MaxScriptSize+1)), "exceeds maximum")
	assert.ErrorContains(t, ValidateScript("\xff"), "UTF-8")
}

func TestValidateGlobals(t *testing.T) {
	tests := []struct {
		name    string
		globals map[string]any
		wantErr string
	}{
		{name: "nil", globals: nil},
		{name: "plain values", globals: map[string]any{"a": 1.0, "$b": "x", "_c": map[string]any{"d": []any{true}}}},
		{name: "empty name", globals: map[string]any{"": 1.0}, wantErr: "required"},
		{name: "not an identifier", globals: map[string]any{"a-b": 1.0}, wantErr: "not a valid identifier"},
		{name: "leading digit", globals: map[string]any{"1a": 1.0}, wantErr: "not a valid identifier"},
		{name: "long name", globals: map[string]any{strings.Repeat("a", MaxNameLength+1): 1.0}, wantErr: "at most"},
		{name: "deep value", globals: map[string]any{"deep": nested(MaxGlobalsDepth + 1)}, wantErr: "global deep: nesting depth"},
		{name: "depth at limit", globals: map[string]any{"deep": nested(MaxGlobalsDepth)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGlobals(tt.globals)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateGlobalsCount(t *testing.T) {
	globals := make(map[string]any, MaxGlobals+1)
	for i := 0; i <= MaxGlobals; i++ {
		globals[fmt.Sprintf("g%d", i)] = 1.0
	}
	assert.ErrorContains(t, ValidateGlobals(globals), "exceeds maximum")
}
