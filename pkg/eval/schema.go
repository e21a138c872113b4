package eval

const flagDefinitionsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["flags"],
  "properties": {
    "flags": {
      "type": "object",
      "additionalProperties": {"$ref": "#/definitions/flag"}
    }
  },
  "definitions": {
    "flag": {
      "type": "object",
      "required": ["state", "variants", "defaultVariant"],
      "properties": {
        "state": {"enum": ["ENABLED", "DISABLED"]},
        "variants": {"type": "object", "minProperties": 1},
        "defaultVariant": {"type": "string"},
        "targeting": {"type": "object"},
        "metadata": {"type": "object"}
      }
    }
  }
}`
