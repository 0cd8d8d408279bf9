package schema_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainindex/internal/schema"
)

const ordersYAML = `
schema: public
name: orders
columns:
  - name: id
    type: bigint
    primary_key: true
    not_null: true
  - name: tags
    type: array
    elem_type: text
  - name: status
    type: enum
    enum_values: ["open", "closed"]
`

func TestParse_BuildsTableFromYAML(t *testing.T) {
	table, err := schema.Parse([]byte(ordersYAML))

	require.NoError(t, err)
	assert.Equal(t, "orders", table.Name)
	require.Len(t, table.Columns, 3)

	idCol, ok := table.ColumnByName("id")
	require.True(t, ok)
	assert.True(t, idCol.PrimaryKey)
	assert.Equal(t, schema.TypeBigInt, idCol.Type)

	tagsCol, ok := table.ColumnByName("tags")
	require.True(t, ok)
	require.NotNil(t, tagsCol.Elem)
	assert.Equal(t, schema.TypeText, tagsCol.Elem.Type)
}

func TestParse_UnknownTypeErrors(t *testing.T) {
	_, err := schema.Parse([]byte("schema: public\nname: x\ncolumns:\n  - name: y\n    type: bogus\n"))

	assert.Error(t, err)
}

func TestLoadDir_LoadsEveryYAMLFileSortedByName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_table.yaml"), []byte("schema: public\nname: b\ncolumns: []\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_table.yml"), []byte("schema: public\nname: a\ncolumns: []\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignore me"), 0o644))

	tables, err := schema.LoadDir(dir)

	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "a", tables[0].Name)
	assert.Equal(t, "b", tables[1].Name)
}

func TestLoadFile_MissingFileErrors(t *testing.T) {
	_, err := schema.LoadFile("/nonexistent/path/table.yaml")

	assert.Error(t, err)
}
