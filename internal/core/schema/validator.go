// SPDX-License-Identifier: Apache-2.0

// Package schema validates action parameters against the JSON schema each
// action spec declares, after filling in the spec's declared defaults.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// TODO: gojsonschema has not had a release in years; evaluate a maintained
// replacement before adopting draft 2020-12 schemas.

// ValidateParams checks params against the given JSON schema. The schema is
// the already-decoded document from the action spec, not a file path.
func ValidateParams(schema map[string]interface{}, params map[string]interface{}) error {
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("error serializing schema: %w", err)
	}
	paramsBytes, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("error serializing params: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaBytes),
		gojsonschema.NewBytesLoader(paramsBytes),
	)
	if err != nil {
		return fmt.Errorf("error running schema validation: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("parameter validation failed: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// MergeWithDefaults returns a new map holding defaults overlaid with params.
// Neither input is modified.
func MergeWithDefaults(params, defaults map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(params)+len(defaults))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	return merged
}
