// Package expr implements the `edit` expression language of
// StructureContractField.Edit: a small pure transform applied to one
// field's already-decoded ContractValue, written as an s-expression.
package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/contractgraph/discovery/internal/models"
)

// Eval parses and evaluates an edit expression against the field's current
// value. "value" within the expression refers to that input.
func Eval(expression string, value models.ContractValue) (models.ContractValue, error) {
	tokens, err := tokenize(expression)
	if err != nil {
		return models.ContractValue{}, err
	}
	p := &parser{tokens: tokens}
	node, err := p.parseExpr()
	if err != nil {
		return models.ContractValue{}, err
	}
	if !p.atEnd() {
		return models.ContractValue{}, fmt.Errorf("edit: trailing input after expression")
	}
	return evalNode(node, value)
}

// --- tokenizer ---------------------------------------------------------

func tokenize(s string) ([]string, error) {
	var tokens []string
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(' || c == ')':
			tokens = append(tokens, string(c))
			i++
		case c == '"':
			j := i + 1
			for j < len(s) && s[j] != '"' {
				j++
			}
			if j >= len(s) {
				return nil, fmt.Errorf("edit: unterminated string literal")
			}
			tokens = append(tokens, s[i:j+1])
			i = j + 1
		default:
			j := i
			for j < len(s) && s[j] != ' ' && s[j] != '\t' && s[j] != '\n' && s[j] != '(' && s[j] != ')' {
				j++
			}
			tokens = append(tokens, s[i:j])
			i = j
		}
	}
	return tokens, nil
}

// --- AST -----------------------------------------------------------------

type node struct {
	atom string  // set when this node is a leaf (symbol, string literal, number)
	list []*node // set when this node is a form: (list[0] list[1] ...)
}

func (n *node) isAtom() bool { return n.list == nil }

type parser struct {
	tokens []string
	pos    int
}

func (p *parser) atEnd() bool { return p.pos >= len(p.tokens) }

func (p *parser) parseExpr() (*node, error) {
	if p.atEnd() {
		return nil, fmt.Errorf("edit: unexpected end of expression")
	}
	tok := p.tokens[p.pos]
	if tok == "(" {
		p.pos++
		n := &node{}
		for {
			if p.atEnd() {
				return nil, fmt.Errorf("edit: unterminated list")
			}
			if p.tokens[p.pos] == ")" {
				p.pos++
				return n, nil
			}
			child, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			n.list = append(n.list, child)
		}
	}
	if tok == ")" {
		return nil, fmt.Errorf("edit: unexpected )")
	}
	p.pos++
	return &node{atom: tok}, nil
}

// --- evaluator -------------------------------------------------------------

func evalNode(n *node, value models.ContractValue) (models.ContractValue, error) {
	if n.isAtom() {
		return evalAtom(n.atom, value)
	}
	if len(n.list) == 0 {
		return models.ContractValue{}, fmt.Errorf("edit: empty form")
	}
	head := n.list[0]
	if !head.isAtom() {
		return models.ContractValue{}, fmt.Errorf("edit: form head must be a symbol")
	}
	args := n.list[1:]
	return applyFunction(head.atom, args, value)
}

func evalAtom(atom string, value models.ContractValue) (models.ContractValue, error) {
	switch {
	case atom == "value":
		return value, nil
	case strings.HasPrefix(atom, `"`) && strings.HasSuffix(atom, `"`):
		return models.NewStringValue(atom[1 : len(atom)-1]), nil
	case atom == "true" || atom == "false":
		return models.NewBoolValue(atom == "true"), nil
	default:
		if n, err := strconv.ParseInt(atom, 10, 64); err == nil {
			return models.NewIntValueFromUint64(uint64(n)), nil
		}
		return models.ContractValue{}, fmt.Errorf("edit: unknown symbol %q", atom)
	}
}

func applyFunction(name string, args []*node, value models.ContractValue) (models.ContractValue, error) {
	eval := func(n *node) (models.ContractValue, error) { return evalNode(n, value) }

	switch name {
	case "lower":
		v, err := requireOne(args, eval)
		if err != nil {
			return models.ContractValue{}, err
		}
		return models.NewStringValue(strings.ToLower(contractValueToString(v))), nil
	case "upper":
		v, err := requireOne(args, eval)
		if err != nil {
			return models.ContractValue{}, err
		}
		return models.NewStringValue(strings.ToUpper(contractValueToString(v))), nil
	case "checksum":
		v, err := requireOne(args, eval)
		if err != nil {
			return models.ContractValue{}, err
		}
		return models.NewStringValue(v.Address().Checksum()), nil
	case "concat":
		var sb strings.Builder
		for _, a := range args {
			v, err := eval(a)
			if err != nil {
				return models.ContractValue{}, err
			}
			sb.WriteString(contractValueToString(v))
		}
		return models.NewStringValue(sb.String()), nil
	case "index":
		if len(args) != 2 {
			return models.ContractValue{}, fmt.Errorf("edit: index takes 2 args")
		}
		list, err := eval(args[0])
		if err != nil {
			return models.ContractValue{}, err
		}
		idxVal, err := eval(args[1])
		if err != nil {
			return models.ContractValue{}, err
		}
		idx := int(idxVal.Int().Uint64())
		items := list.List()
		if idx < 0 || idx >= len(items) {
			return models.ContractValue{}, fmt.Errorf("edit: index out of range")
		}
		return items[idx], nil
	case "get":
		if len(args) != 2 {
			return models.ContractValue{}, fmt.Errorf("edit: get takes 2 args")
		}
		m, err := eval(args[0])
		if err != nil {
			return models.ContractValue{}, err
		}
		keyVal, err := eval(args[1])
		if err != nil {
			return models.ContractValue{}, err
		}
		entry, ok := m.Map()[contractValueToString(keyVal)]
		if !ok {
			return models.ContractValue{}, fmt.Errorf("edit: key not found")
		}
		return entry, nil
	case "eq":
		if len(args) != 2 {
			return models.ContractValue{}, fmt.Errorf("edit: eq takes 2 args")
		}
		a, err := eval(args[0])
		if err != nil {
			return models.ContractValue{}, err
		}
		b, err := eval(args[1])
		if err != nil {
			return models.ContractValue{}, err
		}
		return models.NewBoolValue(contractValueToString(a) == contractValueToString(b)), nil
	case "if":
		if len(args) != 3 {
			return models.ContractValue{}, fmt.Errorf("edit: if takes 3 args")
		}
		cond, err := eval(args[0])
		if err != nil {
			return models.ContractValue{}, err
		}
		if cond.Bool() {
			return eval(args[1])
		}
		return eval(args[2])
	default:
		return models.ContractValue{}, fmt.Errorf("edit: unknown function %q", name)
	}
}

func requireOne(args []*node, eval func(*node) (models.ContractValue, error)) (models.ContractValue, error) {
	if len(args) != 1 {
		return models.ContractValue{}, fmt.Errorf("edit: expected exactly one argument")
	}
	return eval(args[0])
}

func contractValueToString(v models.ContractValue) string {
	switch v.Kind {
	case models.KindString:
		return v.Str()
	case models.KindAddress:
		return v.Address().Hex()
	case models.KindInt:
		return v.Int().Dec()
	case models.KindBool:
		if v.Bool() {
			return "true"
		}
		return "false"
	case models.KindBytes:
		return fmt.Sprintf("0x%x", v.Bytes())
	default:
		return ""
	}
}
