package sqlstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"chainindex/internal/schema"
	cierrors "chainindex/pkg/errors"
)

// These cover the pure helpers only. SelectByKey/BulkInsert/BulkUpdate all
// drive a pgx.Tx directly (native CopyFrom, not database/sql), which
// go-sqlmock cannot stand in for; exercising those needs a real Postgres
// connection, out of reach for a unit test.

func TestWrapConstraintError_NotNullViolation(t *testing.T) {
	err := wrapConstraintError(errors.New(`ERROR: null value in column "x" violates not-null constraint (SQLSTATE 23502)`))

	assert.Equal(t, cierrors.KindNotNullConstraint, cierrors.KindOf(err))
}

func TestWrapConstraintError_UniqueViolation(t *testing.T) {
	err := wrapConstraintError(errors.New(`ERROR: duplicate key value violates unique constraint (SQLSTATE 23505)`))

	assert.Equal(t, cierrors.KindUniqueConstraint, cierrors.KindOf(err))
}

func TestWrapConstraintError_CheckViolation(t *testing.T) {
	err := wrapConstraintError(errors.New(`ERROR: new row violates check constraint (SQLSTATE 23514)`))

	assert.Equal(t, cierrors.KindCheckConstraint, cierrors.KindOf(err))
}

func TestWrapConstraintError_UnknownFallsBackToFlushKind(t *testing.T) {
	err := wrapConstraintError(errors.New("connection reset by peer"))

	assert.Equal(t, cierrors.KindFlush, cierrors.KindOf(err))
}

func TestPgTypeName_MapsEveryLogicalType(t *testing.T) {
	cases := []struct {
		in   schema.Type
		want string
	}{
		{schema.TypeBoolean, "boolean"},
		{schema.TypeInt, "bigint"},
		{schema.TypeBigInt, "numeric"},
		{schema.TypeFloat, "double precision"},
		{schema.TypeText, "text"},
		{schema.TypeHexBytes, "text"},
		{schema.TypeEnum, "text"},
		{schema.TypeJSON, "jsonb"},
		{schema.TypeTimestamp, "timestamptz"},
		{schema.TypePoint, "point"},
		{schema.TypeLine, "line"},
		{schema.TypeArray, "text[]"},
	}
	for _, tc := range cases {
		got := pgTypeName(schema.Column{Type: tc.in})
		assert.Equal(t, tc.want, got, "type %v", tc.in)
	}
}

func TestTempTableName_DefaultsToExactShadow(t *testing.T) {
	s := New(nil)
	table := schema.Table{Name: "accounts"}

	assert.Equal(t, "accounts", s.tempTableName(table))
}

func TestTempTableName_PrefixOption(t *testing.T) {
	s := New(nil, WithTempTablePrefix("tmp_"))
	table := schema.Table{Name: "accounts"}

	assert.Equal(t, "tmp_accounts", s.tempTableName(table))
}
