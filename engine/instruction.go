package engine

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/scanner"
)

// ============================================================================
// INSTRUCTION LANGUAGE — Textual form of a QuerySpec
// ============================================================================
// The instruction is what users see next to an answer, and what the chart
// renderer re-reads. It is an enumerated language, never evaluated as code:
//
//   avg("yield")
//   sum("yield") by "variety", "site" where "year" in ("2021", "2022") sort value_desc limit 5
//   list() where "variety" in ("Gala")
//   plot.bar(x="variety", y="yield", agg=avg)
//   plot.line(x="week", y="brix", y="acidity") by "site"
//   plot.hist(y="yield")
//
// Column names are always quoted. Clauses may appear in any order, each once.
// ============================================================================

// Instruction renders the spec in the instruction language.
func (s QuerySpec) Instruction() string {
	var b strings.Builder

	if s.Intent == "chart" {
		args := make([]string, 0, 2+len(s.Series))
		if len(s.GroupBy) > 0 {
			args = append(args, "x="+strconv.Quote(s.GroupBy[0]))
		}
		for _, m := range s.Measures() {
			args = append(args, "y="+strconv.Quote(m))
		}
		if s.Aggregation != "" && s.Aggregation != "none" {
			args = append(args, "agg="+s.Aggregation)
		}
		fmt.Fprintf(&b, "plot.%s(%s)", s.Visualize, strings.Join(args, ", "))
		if len(s.GroupBy) > 1 {
			b.WriteString(" by " + strconv.Quote(s.GroupBy[1]))
		}
	} else {
		agg := s.Aggregation
		switch agg {
		case "":
			agg = "sum"
		case "none":
			agg = "list"
		}
		b.WriteString(agg + "(")
		if s.Measure != "" {
			b.WriteString(strconv.Quote(s.Measure))
		}
		b.WriteString(")")
		if len(s.GroupBy) > 0 {
			b.WriteString(" by " + quoteAll(s.GroupBy))
		}
	}

	if !s.Filters.IsEmpty() {
		keys := make([]string, 0, len(s.Filters.Dimensions))
		for k, vals := range s.Filters.Dimensions {
			if len(vals) > 0 {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		conds := make([]string, 0, len(keys))
		for _, k := range keys {
			conds = append(conds, fmt.Sprintf("%s in (%s)", strconv.Quote(k), quoteAll(s.Filters.Dimensions[k])))
		}
		b.WriteString(" where " + strings.Join(conds, " and "))
	}
	if s.SortBy != "" {
		b.WriteString(" sort " + s.SortBy)
	}
	if s.Limit > 0 {
		b.WriteString(" limit " + strconv.Itoa(s.Limit))
	}
	return b.String()
}

func quoteAll(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = strconv.Quote(it)
	}
	return strings.Join(quoted, ", ")
}

// ParseInstruction parses an instruction into a QuerySpec.
// Any syntax error is reported as ErrMalformedInstruction.
func ParseInstruction(text string) (QuerySpec, error) {
	p := &instructionParser{}
	p.s.Init(strings.NewReader(text))
	p.s.Mode = scanner.ScanIdents | scanner.ScanStrings | scanner.ScanInts
	p.s.Error = func(s *scanner.Scanner, msg string) {
		if p.err == nil {
			p.err = fmt.Errorf("%s at column %d", msg, s.Pos().Column)
		}
	}
	p.next()

	spec, err := p.parse()
	if err == nil {
		err = p.err
	}
	if err != nil {
		return QuerySpec{}, fmt.Errorf("%w: %v", ErrMalformedInstruction, err)
	}
	return spec, nil
}

// ============================================================================
// PARSER
// ============================================================================

type instructionParser struct {
	s   scanner.Scanner
	tok rune
	err error
}

func (p *instructionParser) next() {
	p.tok = p.s.Scan()
}

func (p *instructionParser) text() string {
	return p.s.TokenText()
}

func (p *instructionParser) errorf(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if p.tok == scanner.EOF {
		return fmt.Errorf("%s at end of input", msg)
	}
	return fmt.Errorf("%s at column %d (found %q)", msg, p.s.Position.Column, p.text())
}

func (p *instructionParser) expect(tok rune) error {
	if p.tok != tok {
		return p.errorf("expected %s", scanner.TokenString(tok))
	}
	p.next()
	return nil
}

func (p *instructionParser) ident() (string, error) {
	if p.tok != scanner.Ident {
		return "", p.errorf("expected identifier")
	}
	v := p.text()
	p.next()
	return v, nil
}

func (p *instructionParser) str() (string, error) {
	if p.tok != scanner.String {
		return "", p.errorf("expected quoted string")
	}
	v, err := strconv.Unquote(p.text())
	if err != nil {
		return "", p.errorf("bad string")
	}
	p.next()
	return v, nil
}

// strList parses "a"{, "b"}.
func (p *instructionParser) strList() ([]string, error) {
	var out []string
	for {
		v, err := p.str()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		if p.tok != ',' {
			return out, nil
		}
		p.next()
	}
}

func (p *instructionParser) parse() (QuerySpec, error) {
	var spec QuerySpec

	head, err := p.ident()
	if err != nil {
		return spec, err
	}
	isPlot := head == "plot"
	if isPlot {
		err = p.parsePlot(&spec)
	} else {
		err = p.parseAggregate(&spec, head)
	}
	if err != nil {
		return spec, err
	}

	seen := make(map[string]bool)
	for p.tok != scanner.EOF && p.err == nil {
		kw, err := p.ident()
		if err != nil {
			return spec, err
		}
		if seen[kw] {
			return spec, fmt.Errorf("duplicate %q clause", kw)
		}
		seen[kw] = true

		switch kw {
		case "by":
			cols, err := p.strList()
			if err != nil {
				return spec, err
			}
			if isPlot {
				if len(spec.GroupBy) != 1 || len(cols) != 1 {
					return spec, errors.New("plot \"by\" takes one column and requires x")
				}
			} else if len(cols) > 2 {
				return spec, errors.New("at most two \"by\" columns")
			}
			spec.GroupBy = append(spec.GroupBy, cols...)

		case "where":
			if err := p.parseWhere(&spec); err != nil {
				return spec, err
			}

		case "sort":
			mode, err := p.ident()
			if err != nil {
				return spec, err
			}
			if !sortModes[mode] {
				return spec, fmt.Errorf("unknown sort mode %q", mode)
			}
			spec.SortBy = mode

		case "limit":
			if p.tok != scanner.Int {
				return spec, p.errorf("expected integer")
			}
			n, err := strconv.Atoi(p.text())
			if err != nil || n <= 0 {
				return spec, p.errorf("limit must be a positive integer")
			}
			p.next()
			spec.Limit = n

		default:
			return spec, fmt.Errorf("unknown clause %q", kw)
		}
	}

	switch {
	case isPlot:
		spec.Intent = "chart"
	case spec.Aggregation == "list" || len(spec.GroupBy) > 0:
		spec.Intent = "table"
		spec.Visualize = "table"
	default:
		spec.Intent = "text"
		spec.Visualize = "text"
	}
	return spec, nil
}

// parsePlot parses .<kind>(x="c", y="c"{, y="c"}[, agg=<agg>]).
func (p *instructionParser) parsePlot(spec *QuerySpec) error {
	if err := p.expect('.'); err != nil {
		return err
	}
	kind, err := p.ident()
	if err != nil {
		return err
	}
	if !chartKinds[kind] {
		return fmt.Errorf("unknown chart kind %q", kind)
	}
	spec.Visualize = kind

	if err := p.expect('('); err != nil {
		return err
	}
	var ys []string
	for p.tok != ')' {
		name, err := p.ident()
		if err != nil {
			return err
		}
		if err := p.expect('='); err != nil {
			return err
		}
		switch name {
		case "x":
			if len(spec.GroupBy) > 0 {
				return errors.New("duplicate x argument")
			}
			col, err := p.str()
			if err != nil {
				return err
			}
			spec.GroupBy = []string{col}
		case "y":
			col, err := p.str()
			if err != nil {
				return err
			}
			ys = append(ys, col)
		case "agg":
			agg, err := p.ident()
			if err != nil {
				return err
			}
			if !aggregations[agg] || agg == "list" || agg == "count" {
				return fmt.Errorf("unsupported chart aggregation %q", agg)
			}
			spec.Aggregation = agg
		default:
			return fmt.Errorf("unknown plot argument %q", name)
		}
		if p.tok == ',' {
			p.next()
		} else if p.tok != ')' {
			return p.errorf("expected , or )")
		}
	}
	p.next()

	if len(ys) == 0 {
		return errors.New("plot needs at least one y column")
	}
	spec.Measure = ys[0]
	spec.Series = ys[1:]
	if len(spec.Series) == 0 {
		spec.Series = nil
	}
	return nil
}

// parseAggregate parses (["measure"]) after an aggregation name.
func (p *instructionParser) parseAggregate(spec *QuerySpec, agg string) error {
	if !aggregations[agg] {
		return fmt.Errorf("unknown operation %q", agg)
	}
	spec.Aggregation = agg
	if err := p.expect('('); err != nil {
		return err
	}
	if p.tok == scanner.String {
		m, err := p.str()
		if err != nil {
			return err
		}
		spec.Measure = m
	} else if agg != "count" && agg != "list" {
		return p.errorf("%s needs a column", agg)
	}
	return p.expect(')')
}

// parseWhere parses "col" in ("v", ...) {and "col" in (...)}.
func (p *instructionParser) parseWhere(spec *QuerySpec) error {
	spec.Filters.Dimensions = make(map[string][]string)
	for {
		col, err := p.str()
		if err != nil {
			return err
		}
		in, err := p.ident()
		if err != nil {
			return err
		}
		if in != "in" {
			return fmt.Errorf("expected \"in\" after %q", col)
		}
		if err := p.expect('('); err != nil {
			return err
		}
		vals, err := p.strList()
		if err != nil {
			return err
		}
		if err := p.expect(')'); err != nil {
			return err
		}
		spec.Filters.Dimensions[col] = append(spec.Filters.Dimensions[col], vals...)

		if p.tok != scanner.Ident || p.text() != "and" {
			return nil
		}
		p.next()
	}
}
