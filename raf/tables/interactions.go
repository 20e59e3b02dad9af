package tables

import (
	"fmt"
	"strconv"
	"strings"
)

// Demographic flags an interaction expression may test. The engine supplies
// a value for every one of these on each evaluation.
const (
	FlagFemale       = "FEMALE"
	FlagMale         = "MALE"
	FlagAged         = "AGED"
	FlagDisabled     = "DISABLED"
	FlagOrigDisabled = "ORIGDS"
	FlagDualPartial  = "DUAL_PARTIAL"
	FlagDualFull     = "DUAL_FULL"
	FlagNonDual      = "NON_DUAL"
	FlagNewEnrollee  = "NEW_ENROLLEE"
	FlagSNP          = "SNP"
	FlagLTI          = "LTI"
	FlagLowIncome    = "LOW_INCOME"
)

var knownFlags = map[string]bool{
	FlagFemale:       true,
	FlagMale:         true,
	FlagAged:         true,
	FlagDisabled:     true,
	FlagOrigDisabled: true,
	FlagDualPartial:  true,
	FlagDualFull:     true,
	FlagNonDual:      true,
	FlagNewEnrollee:  true,
	FlagSNP:          true,
	FlagLTI:          true,
	FlagLowIncome:    true,
}

// EvalInput carries everything a predicate may inspect: the surviving CC set
// and the beneficiary's demographic flags. Predicates never mutate it.
type EvalInput struct {
	CCs   map[int]bool
	Flags map[string]bool
}

// InteractionDef is one row of an interaction table: a named variable and the
// parsed predicate deciding whether it fires. Definitions are built once at
// table load and shared read-only.
type InteractionDef struct {
	Variable string
	expr     exprNode
	demOnly  bool
}

// Fires evaluates the predicate against the given input.
func (d InteractionDef) Fires(in EvalInput) bool {
	return d.expr.eval(in)
}

// DemographicOnly reports whether the predicate never inspects the CC set.
// Such variables count toward the demographic score decomposition.
func (d InteractionDef) DemographicOnly() bool {
	return d.demOnly
}

// ParseInteraction compiles an expression in the interaction mini-language:
//
//	HCC19 AND ANY(85, 86) OR NOT LOW_INCOME
//	COUNT(ALL) >= 5
//	COUNT(17, 18, 19) = 2
//
// Identifiers other than HCC<n> must be one of the demographic flags; anything
// else is a load-time error.
func ParseInteraction(variable, expression string) (InteractionDef, error) {
	p := &exprParser{tokens: tokenize(expression)}
	node, err := p.parseOr()
	if err != nil {
		return InteractionDef{}, err
	}
	if tok := p.peek(); tok.kind != tokenEOF {
		return InteractionDef{}, fmt.Errorf("unexpected %q after expression", tok.text)
	}
	return InteractionDef{Variable: variable, expr: node, demOnly: !node.referencesCCs()}, nil
}

type exprNode interface {
	eval(in EvalInput) bool
	referencesCCs() bool
}

type orNode struct{ kids []exprNode }

func (n orNode) eval(in EvalInput) bool {
	for _, k := range n.kids {
		if k.eval(in) {
			return true
		}
	}
	return false
}

func (n orNode) referencesCCs() bool {
	for _, k := range n.kids {
		if k.referencesCCs() {
			return true
		}
	}
	return false
}

type andNode struct{ kids []exprNode }

func (n andNode) eval(in EvalInput) bool {
	for _, k := range n.kids {
		if !k.eval(in) {
			return false
		}
	}
	return true
}

func (n andNode) referencesCCs() bool {
	for _, k := range n.kids {
		if k.referencesCCs() {
			return true
		}
	}
	return false
}

type notNode struct{ kid exprNode }

func (n notNode) eval(in EvalInput) bool { return !n.kid.eval(in) }
func (n notNode) referencesCCs() bool    { return n.kid.referencesCCs() }

type hccNode struct{ cc int }

func (n hccNode) eval(in EvalInput) bool { return in.CCs[n.cc] }
func (n hccNode) referencesCCs() bool    { return true }

type anyNode struct{ ccs []int }

func (n anyNode) eval(in EvalInput) bool {
	for _, cc := range n.ccs {
		if in.CCs[cc] {
			return true
		}
	}
	return false
}

func (n anyNode) referencesCCs() bool { return true }

type countNode struct {
	ccs []int
	all bool
	op  string
	n   int
}

func (n countNode) eval(in EvalInput) bool {
	count := 0
	if n.all {
		for _, present := range in.CCs {
			if present {
				count++
			}
		}
	} else {
		for _, cc := range n.ccs {
			if in.CCs[cc] {
				count++
			}
		}
	}
	switch n.op {
	case ">=":
		return count >= n.n
	case "<=":
		return count <= n.n
	case ">":
		return count > n.n
	case "<":
		return count < n.n
	default: // "="
		return count == n.n
	}
}

func (n countNode) referencesCCs() bool { return true }

type flagNode struct{ name string }

func (n flagNode) eval(in EvalInput) bool { return in.Flags[n.name] }
func (n flagNode) referencesCCs() bool    { return false }

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenInt
	tokenLParen
	tokenRParen
	tokenComma
	tokenOp
	tokenBad
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(s string) []token {
	var tokens []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '(':
			tokens = append(tokens, token{tokenLParen, "("})
			i++
		case c == ')':
			tokens = append(tokens, token{tokenRParen, ")"})
			i++
		case c == ',':
			tokens = append(tokens, token{tokenComma, ","})
			i++
		case c == '>' || c == '<':
			if i+1 < len(s) && s[i+1] == '=' {
				tokens = append(tokens, token{tokenOp, string(c) + "="})
				i += 2
			} else {
				tokens = append(tokens, token{tokenOp, string(c)})
				i++
			}
		case c == '=':
			tokens = append(tokens, token{tokenOp, "="})
			i++
		case c >= '0' && c <= '9':
			j := i
			for j < len(s) && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			tokens = append(tokens, token{tokenInt, s[i:j]})
			i = j
		case isIdentStart(c):
			j := i
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			tokens = append(tokens, token{tokenIdent, strings.ToUpper(s[i:j])})
			i = j
		default:
			tokens = append(tokens, token{tokenBad, string(c)})
			i++
		}
	}
	return append(tokens, token{tokenEOF, ""})
}

func isIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

type exprParser struct {
	tokens []token
	pos    int
}

func (p *exprParser) peek() token {
	return p.tokens[p.pos]
}

func (p *exprParser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}
	return tok
}

func (p *exprParser) expect(kind tokenKind, what string) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		return tok, fmt.Errorf("expected %s, got %q", what, tok.text)
	}
	return tok, nil
}

func (p *exprParser) parseOr() (exprNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	kids := []exprNode{left}
	for p.peek().kind == tokenIdent && p.peek().text == "OR" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		kids = append(kids, right)
	}
	if len(kids) == 1 {
		return left, nil
	}
	return orNode{kids: kids}, nil
}

func (p *exprParser) parseAnd() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	kids := []exprNode{left}
	for p.peek().kind == tokenIdent && p.peek().text == "AND" {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		kids = append(kids, right)
	}
	if len(kids) == 1 {
		return left, nil
	}
	return andNode{kids: kids}, nil
}

func (p *exprParser) parseUnary() (exprNode, error) {
	if p.peek().kind == tokenIdent && p.peek().text == "NOT" {
		p.next()
		kid, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{kid: kid}, nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (exprNode, error) {
	tok := p.next()
	switch tok.kind {
	case tokenLParen:
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRParen, ")"); err != nil {
			return nil, err
		}
		return node, nil
	case tokenIdent:
		switch tok.text {
		case "ANY":
			ccs, err := p.parseCCList()
			if err != nil {
				return nil, err
			}
			return anyNode{ccs: ccs}, nil
		case "COUNT":
			return p.parseCount()
		case "AND", "OR", "NOT", "ALL":
			return nil, fmt.Errorf("misplaced keyword %q", tok.text)
		default:
			if cc, ok := parseHCCName(tok.text); ok {
				return hccNode{cc: cc}, nil
			}
			if knownFlags[tok.text] {
				return flagNode{name: tok.text}, nil
			}
			return nil, fmt.Errorf("unknown identifier %q", tok.text)
		}
	default:
		return nil, fmt.Errorf("unexpected %q", tok.text)
	}
}

// parseCCList consumes "(" int {"," int} ")".
func (p *exprParser) parseCCList() ([]int, error) {
	if _, err := p.expect(tokenLParen, "("); err != nil {
		return nil, err
	}
	var ccs []int
	for {
		tok, err := p.expect(tokenInt, "condition category number")
		if err != nil {
			return nil, err
		}
		cc, _ := strconv.Atoi(tok.text)
		ccs = append(ccs, cc)
		sep := p.next()
		if sep.kind == tokenRParen {
			return ccs, nil
		}
		if sep.kind != tokenComma {
			return nil, fmt.Errorf("expected , or ) in list, got %q", sep.text)
		}
	}
}

func (p *exprParser) parseCount() (exprNode, error) {
	if _, err := p.expect(tokenLParen, "("); err != nil {
		return nil, err
	}

	node := countNode{}
	if p.peek().kind == tokenIdent && p.peek().text == "ALL" {
		p.next()
		node.all = true
		if _, err := p.expect(tokenRParen, ")"); err != nil {
			return nil, err
		}
	} else {
		for {
			tok, err := p.expect(tokenInt, "condition category number")
			if err != nil {
				return nil, err
			}
			cc, _ := strconv.Atoi(tok.text)
			node.ccs = append(node.ccs, cc)
			sep := p.next()
			if sep.kind == tokenRParen {
				break
			}
			if sep.kind != tokenComma {
				return nil, fmt.Errorf("expected , or ) in list, got %q", sep.text)
			}
		}
	}

	op, err := p.expect(tokenOp, "comparison operator")
	if err != nil {
		return nil, err
	}
	node.op = op.text

	n, err := p.expect(tokenInt, "count")
	if err != nil {
		return nil, err
	}
	node.n, _ = strconv.Atoi(n.text)

	return node, nil
}

// parseHCCName recognizes HCC<n> identifiers.
func parseHCCName(ident string) (int, bool) {
	if !strings.HasPrefix(ident, "HCC") || len(ident) == 3 {
		return 0, false
	}
	n, err := strconv.Atoi(ident[3:])
	if err != nil {
		return 0, false
	}
	return n, true
}
