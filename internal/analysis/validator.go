package analysis

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema.json
var schemaJSON []byte

// SchemaError reports the first constraint a candidate analysis
// violated. It is returned for structural failures (bad JSON, schema
// violations) and for the riskFlag/riskDetails cross-field invariant,
// which field-level schema validation cannot express.
type SchemaError struct {
	Reason string
	cause  error
}

func (e *SchemaError) Error() string {
	return "analysis validation failed: " + e.Reason
}

func (e *SchemaError) Unwrap() error { return e.cause }

var compileOnce = sync.OnceValues(compileSchema)

func compileSchema() (*jsonschema.Schema, error) {
	var schemaValue any
	if err := json.Unmarshal(schemaJSON, &schemaValue); err != nil {
		return nil, fmt.Errorf("parsing embedded analysis schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("analysis.json", schemaValue); err != nil {
		return nil, fmt.Errorf("adding analysis schema resource: %w", err)
	}
	schema, err := compiler.Compile("analysis.json")
	if err != nil {
		return nil, fmt.Errorf("compiling analysis schema: %w", err)
	}
	return schema, nil
}

// Validate checks raw model output against the analysis schema and the
// cross-field risk invariant, returning the decoded analysis on
// success. It rejects rather than coerces: out-of-range scores, short
// justifications, and flag/detail mismatches are all hard failures.
func Validate(raw []byte) (*StructuredAnalysis, error) {
	schema, err := compileOnce()
	if err != nil {
		return nil, err
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, &SchemaError{Reason: "output is not valid JSON: " + err.Error(), cause: err}
	}

	if err := schema.Validate(value); err != nil {
		return nil, &SchemaError{Reason: err.Error(), cause: err}
	}

	var a StructuredAnalysis
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, &SchemaError{Reason: "decoding analysis: " + err.Error(), cause: err}
	}
	if a.RiskDetails == nil {
		a.RiskDetails = []RiskDetail{}
	}

	// Schema-level checks cannot couple riskFlag to riskDetails, so the
	// invariant is enforced here in both directions.
	if a.RiskFlag == RiskFlagRisk && len(a.RiskDetails) == 0 {
		return nil, &SchemaError{Reason: "riskFlag is RISK but riskDetails is empty"}
	}
	if a.RiskFlag == RiskFlagSafe && len(a.RiskDetails) > 0 {
		return nil, &SchemaError{Reason: "riskFlag is SAFE but riskDetails is not empty"}
	}

	return &a, nil
}

// ValidateAnalysis re-checks an already-decoded analysis, used by
// round-trip tests and by callers that synthesize analyses without
// going through raw model output.
func ValidateAnalysis(a *StructuredAnalysis) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding analysis: %w", err)
	}
	_, err = Validate(raw)
	return err
}
