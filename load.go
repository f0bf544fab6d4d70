package deepdelta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	schemafs "github.com/deepdelta/deepdelta/schema"
)

var (
	descriptorSchema *jsonschema.Schema
	compileOnce      sync.Once
	compileErr       error
)

// compileDescriptorSchema compiles the embedded schema once.
func compileDescriptorSchema() error {
	compileOnce.Do(func() {
		data, err := schemafs.FS.ReadFile("descriptor.schema.json")
		if err != nil {
			compileErr = fmt.Errorf("read descriptor schema: %w", err)
			return
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal descriptor schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("descriptor.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("add descriptor schema resource: %w", err)
			return
		}
		descriptorSchema, err = compiler.Compile("descriptor.schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile descriptor schema: %w", err)
		}
	})
	return compileErr
}

// file-level mirror of the descriptor model; kinds and modes arrive as
// strings and are mapped after validation
type descriptorFile struct {
	Types []struct {
		Name     string `yaml:"name" json:"name"`
		Indexing string `yaml:"indexing" json:"indexing"`
		Members  []struct {
			Name             string   `yaml:"name" json:"name"`
			Kind             string   `yaml:"kind" json:"kind"`
			OrderInsensitive bool     `yaml:"orderInsensitive" json:"orderInsensitive"`
			KeyMembers       []string `yaml:"keyMembers" json:"keyMembers"`
			Decimal          bool     `yaml:"decimal" json:"decimal"`
		} `yaml:"members" json:"members"`
	} `yaml:"types" json:"types"`
}

// ParseDescriptors reads descriptor tables from a YAML (or JSON) document,
// validating it against the embedded JSON schema first.
func ParseDescriptors(data []byte) ([]*TypeDescriptor, error) {
	if err := compileDescriptorSchema(); err != nil {
		return nil, err
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse descriptor file: %w", err)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize descriptor file: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("normalize descriptor file: %w", err)
	}
	if err := descriptorSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("descriptor file is invalid: %w", err)
	}

	var file descriptorFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse descriptor file: %w", err)
	}

	tds := make([]*TypeDescriptor, 0, len(file.Types))
	for _, ft := range file.Types {
		td := &TypeDescriptor{Name: ft.Name}
		switch ft.Indexing {
		case "", "auto":
			td.Indexing = IndexAuto
		case "ordinal":
			td.Indexing = IndexOrdinal
		case "stable":
			td.Indexing = IndexStable
		}
		for _, fm := range ft.Members {
			m := Member{
				Name:             fm.Name,
				OrderInsensitive: fm.OrderInsensitive,
				KeyMembers:       fm.KeyMembers,
				Decimal:          fm.Decimal,
			}
			switch fm.Kind {
			case "", "deep":
				m.Kind = Deep
			case "shallow":
				m.Kind = Shallow
			case "reference":
				m.Kind = Reference
			case "skip":
				m.Kind = Skip
			}
			td.Members = append(td.Members, m)
		}
		tds = append(tds, td)
	}
	return tds, nil
}

// LoadDescriptors parses a descriptor file and registers each table
// against the prototype supplied for its type name. Every type named in
// the file must have a prototype; extra prototypes are ignored.
func (s *Schema) LoadDescriptors(data []byte, prototypes map[string]any) error {
	tds, err := ParseDescriptors(data)
	if err != nil {
		return err
	}
	for _, td := range tds {
		proto, ok := prototypes[td.Name]
		if !ok {
			return fmt.Errorf("%w: no prototype supplied for %s", ErrNoDescriptor, td.Name)
		}
		if err := s.Describe(proto, td); err != nil {
			return fmt.Errorf("register %s: %w", td.Name, err)
		}
	}
	return nil
}
