package ruleset

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/broker-flow-ai/regpack/pkg/expr"
)

var knownKeys = map[string]bool{
	"id": true, "when": true, "assert": true, "transform": true,
	"severity": true, "message": true, "lang": true,
}

// block accumulates the fields of the rule currently being read.
type block struct {
	line   int
	fields map[string]string
}

// Parse reads a ruleset source in a single pass.
func Parse(src string) (*Ruleset, error) {
	rs := &Ruleset{Rules: []Rule{}}
	seen := make(map[string]int)
	var (
		cur        *block
		hasVersion bool
	)

	flush := func() error {
		if cur == nil {
			return nil
		}
		r, err := buildRule(cur)
		if err != nil {
			return err
		}
		if prev, dup := seen[r.ID]; dup {
			return &ParseError{Line: cur.line, RuleID: r.ID, Msg: fmt.Sprintf("duplicate rule id (first defined on line %d)", prev)}
		}
		seen[r.ID] = cur.line
		rs.Rules = append(rs.Rules, r)
		cur = nil
		return nil
	}

	sc := bufio.NewScanner(strings.NewReader(src))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		if line == "" {
			// A blank line ends the current block.
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "- "))

		key, value, ok := splitKeyValue(line)
		if !ok {
			return nil, &ParseError{Line: lineNo, RuleID: currentID(cur), Msg: fmt.Sprintf("expected `key: value`, got %q", line)}
		}

		switch {
		case key == "version":
			if cur != nil || len(rs.Rules) > 0 {
				return nil, &ParseError{Line: lineNo, Msg: "version must precede all rule blocks"}
			}
			if hasVersion {
				return nil, &ParseError{Line: lineNo, Msg: "duplicate version header"}
			}
			if value == "" {
				return nil, &ParseError{Line: lineNo, Msg: "version is empty"}
			}
			rs.Version = value
			hasVersion = true
		case key == "rules" && value == "":
			if cur != nil || len(rs.Rules) > 0 {
				return nil, &ParseError{Line: lineNo, Msg: "unexpected rules: section marker inside rule blocks"}
			}
		case key == "id":
			if !hasVersion {
				return nil, &ParseError{Line: lineNo, Msg: "missing version header before first rule"}
			}
			if err := flush(); err != nil {
				return nil, err
			}
			if value == "" {
				return nil, &ParseError{Line: lineNo, Msg: "rule id is empty"}
			}
			cur = &block{line: lineNo, fields: map[string]string{"id": value}}
		case !knownKeys[key]:
			return nil, &ParseError{Line: lineNo, RuleID: currentID(cur), Msg: fmt.Sprintf("unknown key %q", key)}
		case cur == nil:
			return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("%q appears outside a rule block: block lacks an id", key)}
		default:
			if _, dup := cur.fields[key]; dup {
				return nil, &ParseError{Line: lineNo, RuleID: cur.fields["id"], Msg: fmt.Sprintf("duplicate key %q", key)}
			}
			cur.fields[key] = value
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &ParseError{Line: lineNo, Msg: err.Error()}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if !hasVersion {
		return nil, &ParseError{Msg: "missing version header"}
	}
	return rs, nil
}

func currentID(b *block) string {
	if b == nil {
		return ""
	}
	return b.fields["id"]
}

func buildRule(b *block) (Rule, error) {
	f := b.fields
	r := Rule{
		ID:        f["id"],
		When:      f["when"],
		Assert:    f["assert"],
		Transform: f["transform"],
		Message:   f["message"],
		Line:      b.line,
	}
	fail := func(msg string) (Rule, error) {
		return Rule{}, &ParseError{Line: b.line, RuleID: r.ID, Msg: msg}
	}
	switch {
	case r.Assert != "" && r.Transform != "":
		return fail("rule declares both assert and transform")
	case r.Assert == "" && r.Transform == "":
		return fail("rule declares neither assert nor transform")
	}
	sev, err := ParseSeverity(f["severity"])
	if err != nil {
		return fail(err.Error())
	}
	r.Severity = sev
	lang, err := expr.ParseLang(f["lang"])
	if err != nil {
		return fail(err.Error())
	}
	r.Lang = lang
	return r, nil
}

// splitKeyValue splits on the first colon. Keys are single words.
func splitKeyValue(line string) (string, string, bool) {
	i := strings.IndexByte(line, ':')
	if i <= 0 {
		return "", "", false
	}
	key := strings.TrimSpace(line[:i])
	if strings.ContainsAny(key, " \t") {
		return "", "", false
	}
	return key, unquote(strings.TrimSpace(line[i+1:])), true
}

// unquote strips one pair of wrapping double quotes, but only when they
// actually wrap the whole value: `"a" == "b"` is left alone.
func unquote(v string) string {
	if len(v) < 2 || v[0] != '"' || v[len(v)-1] != '"' {
		return v
	}
	if s, err := strconv.Unquote(v); err == nil {
		return s
	}
	inner := v[1 : len(v)-1]
	if strings.Contains(inner, `"`) {
		return v
	}
	return inner
}
