package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// yamlTable and yamlColumn are the on-disk shape; descriptors ship as plain
// YAML files rather than a generated DSL, following the teacher's
// config-loading convention of reading a single declarative file rather than
// code-generating structs.
type yamlTable struct {
	Schema  string        `yaml:"schema"`
	Name    string        `yaml:"name"`
	Columns []yamlColumn  `yaml:"columns"`
}

type yamlColumn struct {
	Name       string   `yaml:"name"`
	Type       string   `yaml:"type"`
	ElemType   string   `yaml:"elem_type,omitempty"`
	EnumValues []string `yaml:"enum_values,omitempty"`
	NotNull    bool     `yaml:"not_null"`
	PrimaryKey bool     `yaml:"primary_key"`
}

var typeNames = map[string]Type{
	"boolean":   TypeBoolean,
	"int":       TypeInt,
	"bigint":    TypeBigInt,
	"float":     TypeFloat,
	"text":      TypeText,
	"hex":       TypeHexBytes,
	"json":      TypeJSON,
	"enum":      TypeEnum,
	"timestamp": TypeTimestamp,
	"point":     TypePoint,
	"line":      TypeLine,
	"array":     TypeArray,
}

// LoadFile parses a table descriptor from a YAML file. Defaults and
// on-update thunks are not expressible in YAML; callers attach those to the
// returned Table's Columns programmatically after loading, since spec.md
// §3's "thunk" concept is inherently code, not data.
func LoadFile(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("schema: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadDir parses every *.yaml/*.yml file in dir as one table descriptor
// each, the shape a runnable engine's schema directory takes (one file per
// table, named after the table).
func LoadDir(dir string) ([]Table, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("schema: read dir %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		t, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// Parse decodes a table descriptor from YAML bytes.
func Parse(data []byte) (Table, error) {
	var yt yamlTable
	if err := yaml.Unmarshal(data, &yt); err != nil {
		return Table{}, fmt.Errorf("schema: parse: %w", err)
	}
	table := Table{Schema: yt.Schema, Name: yt.Name}
	for _, yc := range yt.Columns {
		t, ok := typeNames[yc.Type]
		if !ok {
			return Table{}, fmt.Errorf("schema: column %s: unknown type %q", yc.Name, yc.Type)
		}
		col := Column{
			Name:       yc.Name,
			Type:       t,
			EnumValues: yc.EnumValues,
			NotNull:    yc.NotNull,
			PrimaryKey: yc.PrimaryKey,
		}
		if t == TypeArray && yc.ElemType != "" {
			elemType, ok := typeNames[yc.ElemType]
			if !ok {
				return Table{}, fmt.Errorf("schema: column %s: unknown elem type %q", yc.Name, yc.ElemType)
			}
			col.Elem = &Column{Name: yc.Name + "[]", Type: elemType}
		}
		table.Columns = append(table.Columns, col)
	}
	return table, nil
}
