package ops

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Errors
var (
	ErrNotFound     = errors.New("ops: operation not found")
	ErrInvalidTable = errors.New("ops: invalid operation table")
)

//go:embed ops.yml
var defaultTable []byte

//go:embed ops.schema.json
var tableSchema []byte

const schemaURL = "ops.schema.json"

// Descriptor describes one DUT operation.
type Descriptor struct {
	Kind    Kind
	Name    string
	Opcode  uint8
	KeyType uint8
	Payload int
}

// Selector builds the operation-selector word for d.
func (d Descriptor) Selector(param uint16, keyType uint8) uint32 {
	return Selector(d.Opcode, param, keyType)
}

// Selector packs opcode | param<<8 | keyType<<24. Fields an operation
// does not use are left zero.
func Selector(opcode uint8, param uint16, keyType uint8) uint32 {
	return uint32(opcode) | uint32(param)<<8 | uint32(keyType)<<24
}

type tableFile struct {
	Ops []struct {
		Name    string `yaml:"name"`
		ID      int    `yaml:"id"`
		KeyType int    `yaml:"key_type"`
		Payload int    `yaml:"payload"`
	} `yaml:"ops"`
}

// Table is the immutable descriptor table.
type Table struct {
	byKind map[Kind]Descriptor
	byName map[string]Descriptor
}

// Default returns the table embedded in the binary.
func Default() (*Table, error) {
	return Parse(defaultTable)
}

// MustDefault is Default for package initialisation and tests.
func MustDefault() *Table {
	t, err := Default()
	if err != nil {
		panic(err)
	}
	return t
}

// Load reads a table from path, or the embedded table when path is empty.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ops table: %w", err)
	}
	return Parse(data)
}

// Parse validates a YAML table against the schema and resolves every
// entry to a Kind. Every Kind must be present exactly once.
func Parse(data []byte) (*Table, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode ops table: %w", err)
	}

	t := &Table{
		byKind: make(map[Kind]Descriptor, len(f.Ops)),
		byName: make(map[string]Descriptor, len(f.Ops)),
	}
	opcodes := make(map[uint8]string, len(f.Ops))

	for _, op := range f.Ops {
		kind, ok := ParseKind(op.Name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidTable, op.Name)
		}
		if _, dup := t.byName[op.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate operation %q", ErrInvalidTable, op.Name)
		}
		if other, dup := opcodes[uint8(op.ID)]; dup {
			return nil, fmt.Errorf("%w: opcode 0x%02x used by %q and %q", ErrInvalidTable, op.ID, other, op.Name)
		}
		opcodes[uint8(op.ID)] = op.Name

		d := Descriptor{
			Kind:    kind,
			Name:    op.Name,
			Opcode:  uint8(op.ID),
			KeyType: uint8(op.KeyType),
			Payload: op.Payload,
		}
		t.byKind[kind] = d
		t.byName[op.Name] = d
	}

	for _, k := range Kinds() {
		if _, ok := t.byKind[k]; !ok {
			return nil, fmt.Errorf("%w: missing operation %q", ErrInvalidTable, k)
		}
	}

	return t, nil
}

func validateSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode ops table: %w", err)
	}

	// Round-trip through JSON so the validator sees JSON value types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(tableSchema)); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	return nil
}

// Lookup finds an operation by name.
func (t *Table) Lookup(name string) (Descriptor, error) {
	d, ok := t.byName[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return d, nil
}

// Get returns the descriptor of k. Every Kind is present in a parsed table.
func (t *Table) Get(k Kind) Descriptor {
	return t.byKind[k]
}

// ByOpcode finds the descriptor carrying opcode.
func (t *Table) ByOpcode(opcode uint8) (Descriptor, bool) {
	for _, d := range t.byKind {
		if d.Opcode == opcode {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Descriptors returns every descriptor in Kind order.
func (t *Table) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(t.byKind))
	for _, k := range Kinds() {
		out = append(out, t.byKind[k])
	}
	return out
}
