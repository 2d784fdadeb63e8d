// Package jmxproxy implements a client for Tomcat's /manager/jmxproxy/
// servlet: a plain-text MBean query/get/invoke protocol, plus the
// recursive-descent parser for its response grammar.
package jmxproxy

import (
	"strconv"
	"strings"

	"github.com/sbraverman/pytomcat/cmn"
)

// Bean is one object returned from a query (search) response: its object
// name and the attribute/value pairs printed under it.
type Bean struct {
	ID    string
	Props map[string]cmn.Value
}

const (
	compositePrefix = "javax.management.openmbean.CompositeDataSupport("
	arrayPrefix     = "Array["
)

// parser walks a response body line by line. The grammar is line-oriented:
// a bean id or "key: value" pair never spans a newline except inside an
// Array[...] block or a CompositeDataSupport(...) block, both of which are
// announced by a header token and closed by either a fixed element count
// or a matching "})" / "}" delimiter.
type parser struct {
	lines []string
	pos   int
}

func newParser(body string) *parser {
	lines := strings.Split(body, "\n")
	return &parser{lines: lines}
}

func (p *parser) done() bool { return p.pos >= len(p.lines) }

func (p *parser) peek() string {
	if p.done() {
		return ""
	}
	return p.lines[p.pos]
}

func (p *parser) next() string {
	l := p.peek()
	p.pos++
	return l
}

// ParseSearchResults parses the body of a ?qry= query response: a sequence
// of bean blocks, each a "Name: <bean_id>" header line followed by
// unindented "key: value" property lines, terminated by a blank line (or
// EOF for the last block in the body).
func ParseSearchResults(body string) ([]Bean, error) {
	const beanPrefix = "Name: "
	p := newParser(stripOKHeader(body))
	var beans []Bean
	for !p.done() {
		if strings.TrimSpace(p.peek()) == "" {
			p.next()
			continue
		}
		line := p.next()
		if !strings.HasPrefix(line, beanPrefix) {
			return nil, cmn.NewParseError("expected bean header %q, got %q", beanPrefix, line)
		}
		bean := Bean{ID: strings.TrimPrefix(line, beanPrefix), Props: map[string]cmn.Value{}}
		for !p.done() && strings.TrimSpace(p.peek()) != "" {
			propLine := p.next()
			name, val, err := p.parseNameValue(propLine)
			if err != nil {
				return nil, err
			}
			bean.Props[name] = val
		}
		beans = append(beans, bean)
	}
	return beans, nil
}

// ParseGetResult parses the body of a ?get= response: a single
// "OK - Attribute get ... = <value>" line, where <value> may itself open
// an Array[...] or CompositeDataSupport(...) block.
func ParseGetResult(body string) (cmn.Value, error) {
	p := newParser(body)
	if p.done() {
		return cmn.Null(), nil
	}
	// The "OK - Attribute get '<bean>' : <prop> = <value>" header and the
	// start of the value share one line; only a following Array/Composite
	// block (if any) continues onto further lines. The bean's own object
	// name can contain bare "=" (e.g. "type=Manager"), so split on the
	// spaced " = " that separates the attribute from its value rather than
	// the first "=" in the line.
	const sep = " = "
	firstLine := p.lines[0]
	eq := strings.Index(firstLine, sep)
	if eq < 0 {
		// No attribute at all: Tomcat prints a bare OK line.
		return cmn.Null(), nil
	}
	p.lines[0] = strings.TrimSpace(firstLine[eq+len(sep):])
	return p.parseValue()
}

// ParseInvokeResult parses the body of a ?invoke= response: either
// "OK - Operation X without return value", or "OK - Operation X
// returned:\n<value>", where <value> is either a single value or a
// header-less, two-space-indented repetition of values (distinct from the
// "Array[type] of length N"-headed, tab-indented arrays search_results
// properties use).
func ParseInvokeResult(body string) (cmn.Value, error) {
	trimmed := strings.TrimRight(body, "\n")
	firstNL := strings.Index(trimmed, "\n")
	header := trimmed
	if firstNL >= 0 {
		header = trimmed[:firstNL]
	}
	if strings.Contains(header, "without return value") {
		return cmn.Null(), nil
	}
	if !strings.Contains(header, "returned:") {
		return cmn.Null(), cmn.NewParseError("unrecognized invoke response header: %q", header)
	}
	rest := ""
	if firstNL >= 0 {
		rest = trimmed[firstNL+1:]
	}
	p := newParser(rest)
	return p.parseInvokeValue()
}

// parseInvokeValue implements invoke_results' nvk_val/nvk_arr productions:
// a run of "  "-prefixed value lines becomes an ordered list; anything else
// is a single value (scalar or composite).
func (p *parser) parseInvokeValue() (cmn.Value, error) {
	if p.done() {
		return cmn.Null(), nil
	}
	if strings.HasPrefix(p.peek(), "  ") {
		var items []cmn.Value
		for !p.done() && strings.HasPrefix(p.peek(), "  ") {
			p.lines[p.pos] = strings.TrimPrefix(p.lines[p.pos], "  ")
			v, err := p.parseScalarOrComposite()
			if err != nil {
				return cmn.Value{}, err
			}
			items = append(items, v)
		}
		return cmn.List(items), nil
	}
	return p.parseScalarOrComposite()
}

// parseScalarOrComposite consumes the current line as either a scalar
// value or the header of a (possibly multi-line) composite block.
func (p *parser) parseScalarOrComposite() (cmn.Value, error) {
	if p.done() {
		return cmn.Null(), nil
	}
	raw := p.next()
	trimmedLeft := strings.TrimLeft(raw, " \t")
	if strings.HasPrefix(trimmedLeft, compositePrefix) {
		return p.parseComposite(trimmedLeft)
	}
	return convertScalar(trimmedLeft), nil
}

// parseNameValue splits a "name: value" property line and parses the
// value, which may continue on following (more deeply indented) lines.
func (p *parser) parseNameValue(line string) (string, cmn.Value, error) {
	idx := strings.Index(line, ": ")
	if idx < 0 {
		return "", cmn.Value{}, cmn.NewParseError("malformed property line: %q", line)
	}
	name := line[:idx]
	head := line[idx+2:]
	p.pos--
	p.lines[p.pos] = head
	val, err := p.parseValue()
	return name, val, err
}

// parseValue consumes the value starting at the current line: a scalar,
// an Array[...] block, or a CompositeDataSupport(...) block, returning the
// parsed cmn.Value with p.pos advanced past everything it consumed.
func (p *parser) parseValue() (cmn.Value, error) {
	if p.done() {
		return cmn.Null(), nil
	}
	raw := p.next()
	// Leading indentation is never significant; trailing whitespace can be,
	// for scalar string values (e.g. a padded session id), so only the left
	// side is trimmed ahead of the header checks.
	line := strings.TrimLeft(raw, " \t")
	switch {
	case strings.TrimSpace(line) == "":
		return cmn.Null(), nil
	case strings.HasPrefix(line, arrayPrefix):
		return p.parseArray(line)
	case strings.HasPrefix(line, compositePrefix):
		return p.parseComposite(line)
	default:
		return convertScalar(line), nil
	}
}

// parseArray handles "Array[<type>] of length N" followed by N values,
// one per subsequent line (each of which may itself be a nested
// composite).
func (p *parser) parseArray(header string) (cmn.Value, error) {
	n, err := arrayLength(header)
	if err != nil {
		return cmn.Value{}, err
	}
	items := make([]cmn.Value, 0, n)
	for i := 0; i < n; i++ {
		if p.done() {
			return cmn.Value{}, cmn.NewParseError("array truncated: expected %d elements, got %d", n, i)
		}
		v, err := p.parseValue()
		if err != nil {
			return cmn.Value{}, err
		}
		items = append(items, v)
	}
	return cmn.List(items), nil
}

// arrayLength extracts N from a "Array[<type>] of length N" header.
func arrayLength(header string) (int, error) {
	const marker = "of length "
	idx := strings.LastIndex(header, marker)
	if idx < 0 {
		return 0, cmn.NewParseError("malformed array header: %q", header)
	}
	n, err := strconv.Atoi(strings.TrimSpace(header[idx+len(marker):]))
	if err != nil {
		return 0, cmn.NewParseError("malformed array length in %q: %v", header, err)
	}
	return n, nil
}

// parseComposite parses a (possibly multi-line, possibly nested)
// CompositeDataSupport(compositeType=...,contents={k=v, k2=v2}) block. The
// header line already contains "contents={"; the contents run, balanced
// against nested parens/braces, until the matching "})" — which may be on
// a later line when a contained value is itself multi-line.
func (p *parser) parseComposite(header string) (cmn.Value, error) {
	const contentsMarker = "contents={"
	idx := strings.Index(header, contentsMarker)
	if idx < 0 {
		return cmn.Value{}, cmn.NewParseError("malformed composite header: %q", header)
	}
	body := header[idx+len(contentsMarker):]
	// Reassemble the full balanced contents block, consuming additional
	// lines until depth returns to zero at a closing "})".
	depth := 1
	for {
		for _, r := range body {
			switch r {
			case '{', '(':
				depth++
			case '}', ')':
				depth--
			}
			if depth == 0 {
				break
			}
		}
		if depth == 0 {
			break
		}
		if p.done() {
			return cmn.Value{}, cmn.NewParseError("unterminated composite block")
		}
		body += "\n" + p.next()
	}
	end := strings.LastIndex(body, "})")
	if end < 0 {
		return cmn.Value{}, cmn.NewParseError("composite block missing closing '})': %q", body)
	}
	contents := body[:end]
	fields, err := splitTopLevel(contents, ',')
	if err != nil {
		return cmn.Value{}, err
	}
	m := map[string]cmn.Value{}
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		eq := strings.Index(field, "=")
		if eq < 0 {
			return cmn.Value{}, cmn.NewParseError("malformed composite field: %q", field)
		}
		key := strings.TrimSpace(field[:eq])
		valStr := strings.TrimSpace(field[eq+1:])
		var val cmn.Value
		if strings.HasPrefix(valStr, compositePrefix) {
			sub := newParser(valStr)
			val, err = sub.parseComposite(valStr)
			if err != nil {
				return cmn.Value{}, err
			}
		} else {
			val = convertScalar(valStr)
		}
		m[key] = val
	}
	return cmn.Map(m), nil
}

// splitTopLevel splits s on sep, ignoring separators nested inside
// balanced (), {} or [] — so a composite field whose value contains a
// comma (e.g. a nested composite) isn't split in the middle.
func splitTopLevel(s string, sep rune) ([]string, error) {
	var parts []string
	var cur strings.Builder
	depth := 0
	for _, r := range s {
		switch r {
		case '(', '{', '[':
			depth++
		case ')', '}', ']':
			depth--
			if depth < 0 {
				return nil, cmn.NewParseError("unbalanced delimiters in %q", s)
			}
		}
		if r == sep && depth == 0 {
			parts = append(parts, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	parts = append(parts, cur.String())
	return parts, nil
}

// convertScalar coerces a literal the way the original parser's
// convert_from_str does: try bool, then int, then float, else keep it as
// an opaque string (this is also where values like
// "[Ljava.lang.String;@213dda1" fall through unparsed).
func convertScalar(s string) cmn.Value {
	trimmed := strings.TrimSpace(s)
	switch {
	case strings.EqualFold(trimmed, "true"):
		return cmn.Bool(true)
	case strings.EqualFold(trimmed, "false"):
		return cmn.Bool(false)
	}
	if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return cmn.Int(i)
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return cmn.Float(f)
	}
	// Not a recognized literal: keep it verbatim, trailing whitespace and
	// all (a padded session id, a raw toString() like
	// "[Ljava.lang.String;@213dda1").
	return cmn.Str(s)
}

// stripOKHeader drops the leading "OK - ...\n" banner line(s) that Tomcat
// prefixes every successful response with, leaving only the payload.
func stripOKHeader(body string) string {
	idx := strings.Index(body, "\n")
	if idx < 0 {
		return ""
	}
	return body[idx+1:]
}
