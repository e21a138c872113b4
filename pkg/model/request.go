package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

type ValueType string

const (
	StringType  ValueType = "string"
	BooleanType ValueType = "boolean"
	NumberType  ValueType = "number"
)

// FlagRequest carries the optional evaluation details a client supplies,
// either as a POST body or as the first message of a watch session.
type FlagRequest struct {
	Name             string                 `json:"name,omitempty"`
	VariationType    string                 `json:"variation_type,omitempty"`
	TargetAttributes map[string]interface{} `json:"target_attributes,omitempty"`
}

// ValueType returns the requested variation type. Missing and unknown types
// are treated as strings.
func (r *FlagRequest) ValueType() ValueType {
	if r == nil {
		return StringType
	}
	switch t := ValueType(r.VariationType); t {
	case StringType, BooleanType, NumberType:
		return t
	default:
		return StringType
	}
}

// Attributes never returns nil.
func (r *FlagRequest) Attributes() map[string]interface{} {
	if r == nil || r.TargetAttributes == nil {
		return map[string]interface{}{}
	}
	return r.TargetAttributes
}

const flagRequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "name": {"type": ["string", "null"]},
    "variation_type": {"type": ["string", "null"]},
    "target_attributes": {"type": ["object", "null"]}
  }
}`

var requestSchema = mustSchema(flagRequestSchema)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(err)
	}
	return schema
}

// ParseFlagRequest validates and decodes a request payload. Malformed
// payloads yield an error wrapping ErrParse.
func ParseFlagRequest(data []byte) (*FlagRequest, error) {
	result, err := requestSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrParse, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrParse, strings.Join(msgs, "; "))
	}

	var req FlagRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrParse, err)
	}
	return &req, nil
}
