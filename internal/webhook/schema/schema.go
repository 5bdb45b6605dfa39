// Package schema embeds the per-source JSON Schemas used to validate
// webhook payloads before any field is trusted.
package schema

import (
	"embed"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed github.json trello.json
var files embed.FS

// Compile builds the validators once at startup. The map key is the source
// name as it appears in the webhook URL.
func Compile() (map[string]*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	names := []string{"github", "trello"}
	for _, name := range names {
		data, err := files.ReadFile(name + ".json")
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		if err := compiler.AddResource(name+".json", strings.NewReader(string(data))); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}
	schemas := make(map[string]*jsonschema.Schema, len(names))
	for _, name := range names {
		compiled, err := compiler.Compile(name + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		schemas[name] = compiled
	}
	return schemas, nil
}
