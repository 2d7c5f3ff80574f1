package config

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON string

// ValidateSettings checks raw settings from the config file against the
// embedded JSON schema before they are decoded into Config. Errors are
// reported per field, sorted for stable output.
func ValidateSettings(settings map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewGoLoader(settings),
	)
	if err != nil {
		return fmt.Errorf("validate config schema: %w", err)
	}
	if result.Valid() {
		return nil
	}

	lines := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		lines = append(lines, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	sort.Strings(lines)
	return fmt.Errorf("invalid config: %s", strings.Join(lines, "; "))
}
