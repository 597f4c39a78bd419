package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatementKind(t *testing.T) {
	cases := map[string]string{
		"SELECT * FROM accounts":                            "select",
		"WITH x AS (SELECT 1) UPDATE accounts SET a = 1":    "select",
		"  insert into ledger_transactions (id) values (1)": "insert",
		"(DELETE FROM generation_areas)":                    "delete",
		"PRAGMA foreign_keys = ON":                          "other",
	}
	for sql, want := range cases {
		assert.Equal(t, want, statementKind(sql), sql)
	}
}
