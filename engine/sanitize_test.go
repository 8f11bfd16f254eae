package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowquery/rowquery-go/engine"
)

func TestSanitize_StripComments(t *testing.T) {
	s := engine.DefaultSanitizer()

	tests := []struct {
		name string
		sql  string
		want string
	}{
		{
			name: "line comment",
			sql:  "SELECT 1 -- trailing\nFROM t",
			want: "SELECT 1 \nFROM t",
		},
		{
			name: "block comment",
			sql:  "SELECT /* inline */ 1",
			want: "SELECT   1",
		},
		{
			name: "comment markers inside literal survive",
			sql:  "SELECT '-- not a comment /* either */'",
			want: "SELECT '-- not a comment /* either */'",
		},
		{
			name: "line comment to end of input",
			sql:  "SELECT 1 -- no newline",
			want: "SELECT 1 ",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Sanitize(tt.sql)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitize_SingleStatement(t *testing.T) {
	s := engine.DefaultSanitizer()

	_, err := s.Sanitize("SELECT 1; DROP TABLE users")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrSanitize)

	// A trailing semicolon is fine.
	got, err := s.Sanitize("SELECT 1;")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1;", got)

	// Semicolons inside string literals are data, not statement breaks.
	_, err = s.Sanitize("SELECT 'a; b' FROM t")
	assert.NoError(t, err)

	// Stacking hidden behind a comment is still caught after stripping.
	_, err = s.Sanitize("SELECT 1; /* x */ DELETE FROM t")
	assert.ErrorIs(t, err, engine.ErrSanitize)

	// An apostrophe inside a comment must not open a literal that swallows
	// the statement break.
	_, err = s.Sanitize("SELECT 1 -- don't\n; DROP TABLE users")
	assert.ErrorIs(t, err, engine.ErrSanitize)

	_, err = s.Sanitize("SELECT 1 /* isn't */ ; DROP TABLE users")
	assert.ErrorIs(t, err, engine.ErrSanitize)
}

func TestSanitize_VerbAllowList(t *testing.T) {
	s := engine.ReadOnlySanitizer()

	_, err := s.Sanitize("SELECT * FROM t")
	assert.NoError(t, err)

	_, err = s.Sanitize("  select 1")
	assert.NoError(t, err, "verb match is case-insensitive")

	_, err = s.Sanitize("DELETE FROM t")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrSanitize)
	assert.Contains(t, err.Error(), "DELETE")

	// Empty SQL has no verb to allow.
	_, err = s.Sanitize("   ")
	assert.ErrorIs(t, err, engine.ErrSanitize)

	_, err = s.Sanitize("-- only a comment")
	assert.ErrorIs(t, err, engine.ErrSanitize)
}
