package flowparser

import (
	"github.com/flowllm-ai/flowllm/combinator"
	"github.com/flowllm-ai/flowllm/flowerr"
	"github.com/flowllm-ai/flowllm/op"
	"github.com/flowllm-ai/flowllm/registry"
)

// Parser builds an op.Op tree from the flow expression language (spec
// §4.5) against a Registry snapshot. Concurrent Parse calls on the same
// Parser are safe: each call builds its own fresh variable environment,
// and the Registry itself is safe for concurrent reads.
type Parser struct {
	reg *registry.Registry
}

// New constructs a Parser resolving Op constructor names against reg.
func New(reg *registry.Registry) *Parser {
	return &Parser{reg: reg}
}

// Parse parses src, a possibly multi-line flow expression, into a
// composed op.Op. Every line but the last is a statement (a variable
// assignment or a Container attribute assignment on an existing
// variable); the last line must be a bare expression evaluating to an Op
// (spec §4.5).
func (p *Parser) Parse(src string) (op.Op, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	lines := splitLines(toks)
	if len(lines) == 0 {
		return nil, flowerr.New(flowerr.KindDeterministic, "flowparser: empty expression")
	}

	env := map[string]op.Op{}
	for i, line := range lines {
		if i < len(lines)-1 {
			if err := p.parseStatement(line, env); err != nil {
				return nil, err
			}
			continue
		}
		if looksLikeAssignment(line) {
			return nil, flowerr.New(flowerr.KindDeterministic, "flowparser: last line is an assignment, not an expression")
		}
		lp := newLineParser(line, p.reg, env)
		v, err := lp.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := lp.expect(tokEOF); err != nil {
			return nil, flowerr.New(flowerr.KindDeterministic, "flowparser: unexpected trailing tokens")
		}
		o, ok := v.(op.Op)
		if !ok {
			return nil, flowerr.New(flowerr.KindDeterministic, "flowparser: last line does not evaluate to an Op")
		}
		return o, nil
	}
	return nil, flowerr.New(flowerr.KindDeterministic, "flowparser: empty expression")
}

// splitLines groups tokens by newline, dropping blank lines entirely.
func splitLines(toks []token) [][]token {
	var lines [][]token
	var cur []token
	flush := func() {
		if len(cur) > 0 {
			cur = append(cur, token{kind: tokEOF})
			lines = append(lines, cur)
			cur = nil
		}
	}
	for _, t := range toks {
		switch t.kind {
		case tokNewline:
			flush()
		case tokEOF:
			flush()
		default:
			cur = append(cur, t)
		}
	}
	return lines
}

// looksLikeAssignment reports whether line begins with the IDENT "="  or
// IDENT "." "ops" "." IDENT "=" shape, without consuming it, so Parse can
// reject an assignment-shaped last line as NotAnExpression.
func looksLikeAssignment(line []token) bool {
	if len(line) < 2 || line[0].kind != tokIdent {
		return false
	}
	if line[1].kind == tokEquals {
		return true
	}
	if line[1].kind == tokDot && len(line) >= 5 &&
		line[2].kind == tokIdent && line[2].text == "ops" &&
		line[3].kind == tokDot && line[4].kind == tokIdent && len(line) >= 6 && line[5].kind == tokEquals {
		return true
	}
	return false
}

func (p *Parser) parseStatement(line []token, env map[string]op.Op) error {
	if len(line) < 2 || line[0].kind != tokIdent {
		return flowerr.New(flowerr.KindDeterministic, "flowparser: not a statement")
	}
	name := line[0].text

	if line[1].kind == tokEquals {
		lp := newLineParser(line[2:], p.reg, env)
		v, err := lp.parseExpr()
		if err != nil {
			return err
		}
		if err := lp.expect(tokEOF); err != nil {
			return flowerr.New(flowerr.KindDeterministic, "flowparser: unexpected trailing tokens in assignment")
		}
		o, ok := v.(op.Op)
		if !ok {
			return flowerr.New(flowerr.KindDeterministic, "flowparser: assigned value is not an Op")
		}
		env[name] = o
		return nil
	}

	if line[1].kind == tokDot && len(line) >= 5 &&
		line[2].kind == tokIdent && line[2].text == "ops" &&
		line[3].kind == tokDot && line[4].kind == tokIdent && len(line) >= 6 && line[5].kind == tokEquals {
		childName := line[4].text
		target, ok := env[name]
		if !ok {
			return flowerr.New(flowerr.KindDeterministic, "flowparser: undefined variable %q", name)
		}
		lp := newLineParser(line[6:], p.reg, env)
		v, err := lp.parseExpr()
		if err != nil {
			return err
		}
		if err := lp.expect(tokEOF); err != nil {
			return flowerr.New(flowerr.KindDeterministic, "flowparser: unexpected trailing tokens in attribute assignment")
		}
		child, ok := v.(op.Op)
		if !ok {
			return flowerr.New(flowerr.KindDeterministic, "flowparser: attribute value is not an Op")
		}
		target.SetOp(childName, child)
		return nil
	}

	return flowerr.New(flowerr.KindDeterministic, "flowparser: not a statement")
}

// lineParser parses a single token line (already terminated with tokEOF)
// into an expression value, which may be an op.Op or, transiently, a raw
// literal (a bare literal as an entire expression surfaces as NotAnOp at
// the top level, rather than a generic parse error).
type lineParser struct {
	toks []token
	pos  int
	reg  *registry.Registry
	env  map[string]op.Op
}

func newLineParser(toks []token, reg *registry.Registry, env map[string]op.Op) *lineParser {
	if len(toks) == 0 || toks[len(toks)-1].kind != tokEOF {
		toks = append(append([]token(nil), toks...), token{kind: tokEOF})
	}
	return &lineParser{toks: toks, reg: reg, env: env}
}

func (lp *lineParser) peek() token { return lp.toks[lp.pos] }

func (lp *lineParser) advance() token {
	t := lp.toks[lp.pos]
	if t.kind != tokEOF {
		lp.pos++
	}
	return t
}

func (lp *lineParser) expect(k tokenKind) error {
	if lp.peek().kind != k {
		return flowerr.New(flowerr.KindDeterministic, "flowparser: unexpected token")
	}
	lp.advance()
	return nil
}

// parseExpr implements precedence: ">>" (Sequential) loosest, "|"
// (Parallel) next, "<<" (Container) tightest, all left-associative
// (spec §4.5).
func (lp *lineParser) parseExpr() (any, error) {
	return lp.parseSequential()
}

func (lp *lineParser) parseSequential() (any, error) {
	left, err := lp.parseParallel()
	if err != nil {
		return nil, err
	}
	for lp.peek().kind == tokSeq {
		lp.advance()
		right, err := lp.parseParallel()
		if err != nil {
			return nil, err
		}
		leftOp, rightOp, err := asOpPair(left, right)
		if err != nil {
			return nil, err
		}
		left, err = combinator.Then(leftOp, rightOp)
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (lp *lineParser) parseParallel() (any, error) {
	left, err := lp.parseContainer()
	if err != nil {
		return nil, err
	}
	for lp.peek().kind == tokPipe {
		lp.advance()
		right, err := lp.parseContainer()
		if err != nil {
			return nil, err
		}
		leftOp, rightOp, err := asOpPair(left, right)
		if err != nil {
			return nil, err
		}
		left, err = combinator.Or(leftOp, rightOp)
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (lp *lineParser) parseContainer() (any, error) {
	left, err := lp.parsePrimary()
	if err != nil {
		return nil, err
	}
	for lp.peek().kind == tokShift {
		lp.advance()
		children, err := lp.parseContainerMap()
		if err != nil {
			return nil, err
		}
		leftOp, err := asOp(left)
		if err != nil {
			return nil, err
		}
		left, err = combinator.Attach(leftOp, children)
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (lp *lineParser) parseContainerMap() (map[string]op.Op, error) {
	if err := lp.expect(tokLBrace); err != nil {
		return nil, err
	}
	children := map[string]op.Op{}
	if lp.peek().kind == tokRBrace {
		lp.advance()
		return children, nil
	}
	for {
		if lp.peek().kind != tokIdent {
			return nil, flowerr.New(flowerr.KindDeterministic, "flowparser: expected child name in container map")
		}
		name := lp.advance().text
		if err := lp.expect(tokColon); err != nil {
			return nil, err
		}
		v, err := lp.parseExpr()
		if err != nil {
			return nil, err
		}
		childOp, err := asOp(v)
		if err != nil {
			return nil, err
		}
		children[name] = childOp
		if lp.peek().kind == tokComma {
			lp.advance()
			continue
		}
		break
	}
	return children, lp.expect(tokRBrace)
}

func (lp *lineParser) parsePrimary() (any, error) {
	t := lp.peek()
	switch t.kind {
	case tokLParen:
		lp.advance()
		v, err := lp.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := lp.expect(tokRParen); err != nil {
			return nil, err
		}
		return v, nil
	case tokString:
		lp.advance()
		return t.text, nil
	case tokNumber:
		lp.advance()
		return parseNumberLiteral(t.text), nil
	case tokTrue:
		lp.advance()
		return true, nil
	case tokFalse:
		lp.advance()
		return false, nil
	case tokIdent:
		name := lp.advance().text
		if lp.peek().kind == tokLParen {
			return lp.parseCtorCall(name)
		}
		o, ok := lp.env[name]
		if !ok {
			return nil, flowerr.New(flowerr.KindDeterministic, "flowparser: undefined variable %q", name)
		}
		return o, nil
	default:
		return nil, flowerr.New(flowerr.KindDeterministic, "flowparser: unexpected token")
	}
}

// parseCtorCall resolves name in the Registry, invokes its zero-arg
// constructor, then applies each keyword argument via Op.SetAttr (spec
// §4.5 "Op constructor calls ... invoked with parenthesized arguments").
// An unregistered name fails with KindUnknownOp (spec §4.5 "unregistered
// name → UnknownOp").
func (lp *lineParser) parseCtorCall(name string) (any, error) {
	lp.advance() // consume '('
	args := map[string]any{}
	if lp.peek().kind != tokRParen {
		for {
			if lp.peek().kind != tokIdent {
				return nil, flowerr.New(flowerr.KindDeterministic, "flowparser: expected argument name")
			}
			argName := lp.advance().text
			if err := lp.expect(tokEquals); err != nil {
				return nil, err
			}
			val, err := lp.parseLiteral()
			if err != nil {
				return nil, err
			}
			args[argName] = val
			if lp.peek().kind == tokComma {
				lp.advance()
				continue
			}
			break
		}
	}
	if err := lp.expect(tokRParen); err != nil {
		return nil, err
	}

	v, err := lp.reg.Resolve(registry.CategoryOp, name)
	if err != nil {
		return nil, err
	}
	o, ok := v.(op.Op)
	if !ok {
		return nil, flowerr.New(flowerr.KindDeterministic, "flowparser: registered op %q does not implement op.Op", name)
	}
	for argName, val := range args {
		if err := o.SetAttr(argName, val); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (lp *lineParser) parseLiteral() (any, error) {
	t := lp.peek()
	switch t.kind {
	case tokString:
		lp.advance()
		return t.text, nil
	case tokNumber:
		lp.advance()
		return parseNumberLiteral(t.text), nil
	case tokTrue:
		lp.advance()
		return true, nil
	case tokFalse:
		lp.advance()
		return false, nil
	default:
		return nil, flowerr.New(flowerr.KindDeterministic, "flowparser: expected a literal argument value")
	}
}

func asOp(v any) (op.Op, error) {
	o, ok := v.(op.Op)
	if !ok {
		return nil, flowerr.New(flowerr.KindDeterministic, "flowparser: value is not an Op")
	}
	return o, nil
}

func asOpPair(left, right any) (op.Op, op.Op, error) {
	l, err := asOp(left)
	if err != nil {
		return nil, nil, err
	}
	r, err := asOp(right)
	if err != nil {
		return nil, nil, err
	}
	return l, r, nil
}
