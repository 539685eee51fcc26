package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatementName(t *testing.T) {
	cases := map[string]string{
		"SELECT data FROM profiles WHERE email = $1":              "select profiles",
		"INSERT INTO profiles (email, data) VALUES ($1, $2)":      "insert profiles",
		"update profiles set data = $2":                           "update profiles",
		"CREATE TABLE IF NOT EXISTS profiles (email text)":        "create",
		"":                                                        "unknown",
	}
	for sql, want := range cases {
		assert.Equal(t, want, statementName(sql), sql)
	}
}
