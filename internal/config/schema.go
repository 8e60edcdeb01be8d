package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

var configSchema = sync.OnceValues(func() ([]byte, error) {
	reflector := &jsonschema.Reflector{FieldNameTag: "yaml"}
	schema := reflector.Reflect(&Config{})
	return json.MarshalIndent(schema, "", "  ")
})

// JSONSchema returns the JSON Schema document describing Config, reflected
// from its `yaml` struct tags so editor tooling can validate a config file
// against the same field names the YAML loader uses. Computed once.
func JSONSchema() ([]byte, error) {
	return configSchema()
}
