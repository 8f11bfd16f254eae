package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rowquery/rowquery-go/adapters"
)

// segment is one lexical piece of a SQL string: either a single-quoted string
// literal (kept verbatim, '' escapes included) or everything between
// literals.
type segment struct {
	literal bool
	text    string
}

// splitLiterals separates sql into literal and code segments. An unterminated
// literal runs to the end of the string; downstream checks treat it as
// opaque, matching driver behavior.
func splitLiterals(sql string) []segment {
	var segs []segment
	last, i := 0, 0
	n := len(sql)

	for i < n {
		if sql[i] != '\'' {
			i++
			continue
		}
		if i > last {
			segs = append(segs, segment{text: sql[last:i]})
		}
		j := closeLiteral(sql, i)
		segs = append(segs, segment{literal: true, text: sql[i:j]})
		last, i = j, j
	}
	if last < n {
		segs = append(segs, segment{text: sql[last:]})
	}
	return segs
}

// closeLiteral scans a single-quoted literal opening at sql[i] and returns
// the index just past its closing quote, honoring '' escapes. An unterminated
// literal runs to the end of the string.
func closeLiteral(sql string, i int) int {
	j, n := i+1, len(sql)
	for j < n {
		if sql[j] == '\'' {
			j++
			if j >= n || sql[j] != '\'' {
				return j
			}
			j++ // '' escape
		} else {
			j++
		}
	}
	return j
}

// Normalize rewrites :name parameters to the dialect's placeholder style and
// collects the bound values in placeholder order. String literals are left
// untouched and PostgreSQL ::typecast syntax is never treated as a parameter.
// A :name with no entry in params fails with ErrParamBinding; an absent map
// binds every parameter to nil only if the SQL names none.
func Normalize(sql string, style adapters.PlaceholderStyle, params map[string]any) (string, []any, error) {
	var (
		sb      strings.Builder
		args    []any
		ordinal = map[string]int{} // name -> $n, Dollar style only
	)

	bind := func(name string) (string, error) {
		val, ok := params[name]
		if !ok {
			return "", fmt.Errorf("%w: no value for :%s", ErrParamBinding, name)
		}
		switch style {
		case adapters.Dollar:
			if n, seen := ordinal[name]; seen {
				return "$" + strconv.Itoa(n), nil
			}
			args = append(args, val)
			ordinal[name] = len(args)
			return "$" + strconv.Itoa(len(args)), nil
		default:
			args = append(args, val)
			return "?", nil
		}
	}

	for _, seg := range splitLiterals(sql) {
		if seg.literal {
			sb.WriteString(seg.text)
			continue
		}
		if err := rewriteParams(&sb, seg.text, bind); err != nil {
			return "", nil, err
		}
	}
	return sb.String(), args, nil
}

// rewriteParams copies code through sb, replacing each :name via bind.
// A parameter starts at a colon not preceded by a colon or word character
// (so a::int and schema:table are untouched) and extends over [A-Za-z_]\w*.
func rewriteParams(sb *strings.Builder, code string, bind func(string) (string, error)) error {
	i, n := 0, len(code)
	for i < n {
		c := code[i]
		if c != ':' {
			sb.WriteByte(c)
			i++
			continue
		}
		if i > 0 && (code[i-1] == ':' || isWordByte(code[i-1])) {
			sb.WriteByte(c)
			i++
			continue
		}
		if i+1 < n && code[i+1] == ':' {
			sb.WriteString("::")
			i += 2
			continue
		}
		j := i + 1
		if j >= n || !isNameStart(code[j]) {
			sb.WriteByte(c)
			i++
			continue
		}
		for j < n && isWordByte(code[j]) {
			j++
		}
		placeholder, err := bind(code[i+1 : j])
		if err != nil {
			return err
		}
		sb.WriteString(placeholder)
		i = j
	}
	return nil
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isWordByte(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}
