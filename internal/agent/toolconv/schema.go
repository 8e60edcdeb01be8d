package toolconv

import "encoding/json"

// emptyObjectSchema is substituted for a tool's declared schema when that
// schema fails to parse, so a single malformed tool definition degrades to
// "accepts anything" rather than aborting conversion for every tool in the
// request.
func emptyObjectSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// decodeSchema unmarshals raw into a map, falling back to emptyObjectSchema
// on any parse error.
func decodeSchema(raw json.RawMessage) map[string]any {
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return emptyObjectSchema()
	}
	return schema
}
