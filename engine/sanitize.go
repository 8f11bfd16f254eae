package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Sanitizer checks inline SQL strings before execution. It applies only to
// raw SQL handed directly to the engine or a transaction; registry-loaded
// queries are trusted and bypass it entirely.
type Sanitizer struct {
	// StripComments removes -- line comments and /* */ block comments.
	StripComments bool
	// SingleStatement rejects SQL containing a semicolon followed by further
	// content, preventing statement stacking ("SELECT 1; DROP TABLE users").
	SingleStatement bool
	// AllowedVerbs, when non-empty, restricts the leading SQL keyword to the
	// listed verbs (case-insensitive).
	AllowedVerbs []string
}

// DefaultSanitizer strips comments and blocks multi-statement SQL, with no
// verb restriction.
func DefaultSanitizer() *Sanitizer {
	return &Sanitizer{StripComments: true, SingleStatement: true}
}

// ReadOnlySanitizer additionally restricts inline SQL to SELECT.
func ReadOnlySanitizer() *Sanitizer {
	return &Sanitizer{StripComments: true, SingleStatement: true, AllowedVerbs: []string{"SELECT"}}
}

// Sanitize applies every enabled check and returns the cleaned SQL.
func (s *Sanitizer) Sanitize(sql string) (string, error) {
	if s.StripComments {
		sql = stripComments(sql)
	}
	if s.SingleStatement {
		if err := checkSingleStatement(sql); err != nil {
			return "", err
		}
	}
	if len(s.AllowedVerbs) > 0 {
		if err := checkVerb(sql, s.AllowedVerbs); err != nil {
			return "", err
		}
	}
	return sql, nil
}

// stripComments removes SQL comments in one pass that tracks literals and
// comments together, so an apostrophe inside a comment never opens a phantom
// literal and a comment marker inside a literal stays verbatim. A line
// comment keeps its newline; a block comment collapses to a single space.
func stripComments(sql string) string {
	var sb strings.Builder
	i, n := 0, len(sql)
	for i < n {
		switch {
		case sql[i] == '\'':
			j := closeLiteral(sql, i)
			sb.WriteString(sql[i:j])
			i = j
		case strings.HasPrefix(sql[i:], "--"):
			j := strings.IndexByte(sql[i:], '\n')
			if j == -1 {
				return sb.String() // comment to end of input
			}
			sb.WriteByte('\n')
			i += j + 1
		case strings.HasPrefix(sql[i:], "/*"):
			j := strings.Index(sql[i+2:], "*/")
			if j == -1 {
				return sb.String() // unterminated block comment
			}
			sb.WriteByte(' ')
			i += 2 + j + 2
		default:
			sb.WriteByte(sql[i])
			i++
		}
	}
	return sb.String()
}

// checkSingleStatement fails when a semicolon outside a string literal is
// followed by anything other than whitespace.
func checkSingleStatement(sql string) error {
	segs := splitLiterals(sql)
	for si, seg := range segs {
		if seg.literal {
			continue
		}
		for i := 0; i < len(seg.text); i++ {
			if seg.text[i] != ';' {
				continue
			}
			if strings.TrimSpace(seg.text[i+1:]) != "" {
				return fmt.Errorf("%w: multiple statements are not permitted in inline SQL", ErrSanitize)
			}
			// Trailing content may live in later segments.
			for _, rest := range segs[si+1:] {
				if strings.TrimSpace(rest.text) != "" {
					return fmt.Errorf("%w: multiple statements are not permitted in inline SQL", ErrSanitize)
				}
			}
		}
	}
	return nil
}

// checkVerb fails when the first keyword of the SQL is outside the allow-list.
func checkVerb(sql string, allowed []string) error {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return fmt.Errorf("%w: empty SQL", ErrSanitize)
	}
	verb := strings.ToUpper(strings.TrimLeft(fields[0], "("))
	for _, a := range allowed {
		if verb == strings.ToUpper(a) {
			return nil
		}
	}
	sorted := make([]string, len(allowed))
	copy(sorted, allowed)
	sort.Strings(sorted)
	return fmt.Errorf("%w: verb %q is not permitted, allowed: %v", ErrSanitize, verb, sorted)
}
