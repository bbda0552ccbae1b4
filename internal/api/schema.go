// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const schemaBaseURL = "https://gymkeeper.dev/schemas/api/"

// RequestSchema validates one request body type.
type RequestSchema struct {
	name   string
	schema *jschema.Schema
}

// NewRequestSchema reflects v into a JSON Schema and compiles it. Unknown
// properties are allowed; formats are asserted.
func NewRequestSchema(name string, v any) (*RequestSchema, error) {
	r := jsonschema.Reflector{
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
		AllowAdditionalProperties:  true,
	}
	reflected := r.Reflect(v)
	url := schemaBaseURL + name + ".json"
	reflected.ID = jsonschema.ID(url)

	raw, err := json.Marshal(reflected)
	if err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("schema", name).Wrap(err)
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("schema", name).Wrap(err)
	}

	c := jschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("schema", name).Wrap(err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("schema", name).Wrap(err)
	}
	return &RequestSchema{name: name, schema: compiled}, nil
}

var printer = message.NewPrinter(language.English)

// Validate checks a raw JSON body. Failures are REQUEST_INVALID errors
// carrying per-field details.
func (s *RequestSchema) Validate(body []byte) ([]FieldDetail, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, requestInvalid("request body is required")
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, oops.Code("REQUEST_INVALID").Wrapf(err, "malformed JSON body")
	}

	err = s.schema.Validate(doc)
	if err == nil {
		return nil, nil
	}
	var verr *jschema.ValidationError
	if !errors.As(err, &verr) {
		return nil, oops.Code("SCHEMA_VALIDATE_FAILED").With("schema", s.name).Wrap(err)
	}
	details := collectDetails(verr, nil)
	return details, requestInvalid("request validation failed")
}

func collectDetails(verr *jschema.ValidationError, out []FieldDetail) []FieldDetail {
	if len(verr.Causes) == 0 {
		field := strings.Join(verr.InstanceLocation, ".")
		if field == "" {
			field = "body"
		}
		return append(out, FieldDetail{Field: field, Message: verr.ErrorKind.LocalizedString(printer)})
	}
	for _, cause := range verr.Causes {
		out = collectDetails(cause, out)
	}
	return out
}
