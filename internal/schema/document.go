package schema

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/datalite/internal/datom"
)

//go:embed document.cue
var documentCUE string

// Document is a parsed attribute document: a batch of attribute definitions
// destined for one schema transaction.
type Document struct {
	Attributes []AttributeSpec `yaml:"attributes"`
}

// AttributeSpec is the document form of one attribute definition.
type AttributeSpec struct {
	Ident       string `yaml:"ident"`
	ValueType   string `yaml:"valueType"`
	Cardinality string `yaml:"cardinality"`
	Unique      string `yaml:"unique,omitempty"`
	Index       bool   `yaml:"index,omitempty"`
	Doc         string `yaml:"doc,omitempty"`
}

// ReadDocument parses and validates an attribute document.
//
// Validation happens twice, deliberately: the embedded CUE schema rejects
// structurally invalid documents with positional diagnostics, then the
// definitions pass ValidateDefinition for the constraints CUE does not
// express. A document that survives both cannot fail schema validation at
// transact time.
func ReadDocument(data []byte) (*Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, schemaErrorf("", "attribute document is not valid YAML: %v", err)
	}
	if err := validateDocumentCUE(raw); err != nil {
		return nil, err
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, schemaErrorf("", "attribute document: %v", err)
	}
	if _, err := doc.Definitions(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// validateDocumentCUE unifies the document with the embedded #Document
// schema and reports every violation, not just the first.
func validateDocumentCUE(raw any) error {
	ctx := cuecontext.New()
	schemaVal := ctx.CompileString(documentCUE)
	if err := schemaVal.Err(); err != nil {
		return fmt.Errorf("internal: document.cue does not compile: %w", err)
	}
	defVal := schemaVal.LookupPath(cue.ParsePath("#Document"))
	if !defVal.Exists() {
		return fmt.Errorf("internal: document.cue has no #Document")
	}

	unified := defVal.Unify(ctx.Encode(raw))
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		msgs := make([]string, 0, 4)
		for _, e := range cueerrors.Errors(err) {
			msgs = append(msgs, e.Error())
		}
		return schemaErrorf("", "attribute document rejected: %v", msgs)
	}
	return nil
}

// Definitions converts the document into attribute definitions (ID unset;
// ids are allocated by the transaction that installs them).
func (d *Document) Definitions() ([]Attribute, error) {
	if len(d.Attributes) == 0 {
		return nil, schemaErrorf("", "attribute document has no attributes")
	}
	defs := make([]Attribute, 0, len(d.Attributes))
	seen := make(map[datom.Keyword]bool, len(d.Attributes))
	for _, spec := range d.Attributes {
		def, err := spec.definition()
		if err != nil {
			return nil, err
		}
		if seen[def.Ident] {
			return nil, schemaErrorf(def.Ident, "duplicate ident in document")
		}
		seen[def.Ident] = true
		defs = append(defs, def)
	}
	return defs, nil
}

func (spec AttributeSpec) definition() (Attribute, error) {
	ident, err := datom.ParseKeyword(spec.Ident)
	if err != nil {
		return Attribute{}, schemaErrorf("", "%v", err)
	}
	vt, err := datom.ParseValueType(spec.ValueType)
	if err != nil {
		return Attribute{}, schemaErrorf(ident, "%v", err)
	}

	card := CardinalityOne
	switch spec.Cardinality {
	case "", "one":
	case "many":
		card = CardinalityMany
	default:
		return Attribute{}, schemaErrorf(ident, "cardinality must be one or many, got %q", spec.Cardinality)
	}

	uniq := UniqueNone
	switch spec.Unique {
	case "":
	case "value":
		uniq = UniqueValue
	case "identity":
		uniq = UniqueIdentity
	default:
		return Attribute{}, schemaErrorf(ident, "unique must be value or identity, got %q", spec.Unique)
	}

	def := Attribute{
		Ident:       ident,
		Type:        vt,
		Cardinality: card,
		Unique:      uniq,
		Indexed:     spec.Index,
		Doc:         spec.Doc,
	}
	if err := ValidateDefinition(def); err != nil {
		return Attribute{}, err
	}
	return def, nil
}
