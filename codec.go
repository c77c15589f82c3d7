package pluraal

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Canonical wire shapes:
//
//	Literal       bare JSON scalar: string, number, or boolean
//	Reference     {"ref": "<name>"}
//	Branch        {"type": "branch", "value": <branch object>}
//	IfThenElse    {"if": Expr, "then": Expr, "else": Expr}
//	RuleChain     {"rules": [{"when": Expr, "then": Expr}, ...], "otherwise"?: Expr}
//	FiniteBranch  {"branchOn": Expr, "when": [[keyExpr, valueExpr], ...], "otherwise"?: Expr}
//	Scope         {"inputs": {name: type, ...}, "calculations": {name: Expr, ...}, "outputs": [name, ...]}
//
// Decoding uses ordered alternative matching: bare scalar first, then the
// "ref" object shape, then the "type": "branch" object shape. The shapes are
// mutually exclusive by construction, so the first structurally valid
// alternative is accepted without backtracking.

// EncodeExpr encodes an expression to its canonical JSON form.
func EncodeExpr(e Expr) (json.RawMessage, error) {
	v, err := exprToValue(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// DecodeExpr decodes an expression from its canonical JSON form.
func DecodeExpr(data json.RawMessage) (Expr, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parsing expression JSON: %w", err)
	}
	return exprFromValue(v)
}

func exprToValue(e Expr) (any, error) {
	switch n := e.(type) {
	case *Literal:
		if n.Kind() == "" {
			return nil, fmt.Errorf("literal value %v (%T) is not a string, number, or bool", n.Value, n.Value)
		}
		return n.Value, nil

	case *Reference:
		return map[string]any{"ref": n.Name}, nil

	case BranchExpr:
		inner, err := branchToValue(n)
		if err != nil {
			return nil, err
		}
		return map[string]any{"type": "branch", "value": inner}, nil
	}
	return nil, fmt.Errorf("unknown expression type %T", e)
}

func branchToValue(e BranchExpr) (any, error) {
	switch n := e.(type) {
	case *IfThenElse:
		condition, err := exprToValue(n.If)
		if err != nil {
			return nil, err
		}
		then, err := exprToValue(n.Then)
		if err != nil {
			return nil, err
		}
		alt, err := exprToValue(n.Else)
		if err != nil {
			return nil, err
		}
		return map[string]any{"if": condition, "then": then, "else": alt}, nil

	case *RuleChain:
		rules := make([]any, len(n.Rules))
		for i, rule := range n.Rules {
			when, err := exprToValue(rule.When)
			if err != nil {
				return nil, err
			}
			then, err := exprToValue(rule.Then)
			if err != nil {
				return nil, err
			}
			rules[i] = map[string]any{"when": when, "then": then}
		}
		out := map[string]any{"rules": rules}
		if n.Otherwise != nil {
			otherwise, err := exprToValue(n.Otherwise)
			if err != nil {
				return nil, err
			}
			out["otherwise"] = otherwise
		}
		return out, nil

	case *FiniteBranch:
		branchOn, err := exprToValue(n.BranchOn)
		if err != nil {
			return nil, err
		}
		cases := make([]any, len(n.Cases))
		for i, c := range n.Cases {
			key, err := exprToValue(c.Key)
			if err != nil {
				return nil, err
			}
			value, err := exprToValue(c.Value)
			if err != nil {
				return nil, err
			}
			cases[i] = []any{key, value}
		}
		out := map[string]any{"branchOn": branchOn, "when": cases}
		if n.Otherwise != nil {
			otherwise, err := exprToValue(n.Otherwise)
			if err != nil {
				return nil, err
			}
			out["otherwise"] = otherwise
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown branch type %T", e)
}

func exprFromValue(v any) (Expr, error) {
	// Alternative 1: bare scalar literal.
	switch s := v.(type) {
	case string:
		return &Literal{Value: s}, nil
	case float64:
		return &Literal{Value: s}, nil
	case bool:
		return &Literal{Value: s}, nil
	case nil:
		return nil, fmt.Errorf("null is not a valid expression")
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expression must be a scalar or object, got JSON array")
	}

	// Alternative 2: the "ref" shape.
	if ref, present := obj["ref"]; present {
		name, ok := ref.(string)
		if !ok {
			return nil, fmt.Errorf("\"ref\" must be a string")
		}
		return &Reference{Name: name}, nil
	}

	// Alternative 3: the "type": "branch" wrapper.
	kind, present := obj["type"]
	if !present {
		return nil, fmt.Errorf("expression object must have a \"ref\" or \"type\" field")
	}
	if kind != "branch" {
		return nil, fmt.Errorf("unknown expression type %v", kind)
	}
	inner, present := obj["value"]
	if !present {
		return nil, fmt.Errorf("branch expression is missing \"value\"")
	}
	return branchFromValue(inner)
}

func branchFromValue(v any) (Expr, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("branch value must be an object")
	}

	switch {
	case hasKey(obj, "if"):
		return ifThenElseFromValue(obj)
	case hasKey(obj, "rules"):
		return ruleChainFromValue(obj)
	case hasKey(obj, "branchOn"):
		return finiteBranchFromValue(obj)
	}
	return nil, fmt.Errorf("branch value must contain \"if\", \"rules\", or \"branchOn\"")
}

func ifThenElseFromValue(obj map[string]any) (Expr, error) {
	for _, field := range []string{"if", "then", "else"} {
		if !hasKey(obj, field) {
			return nil, fmt.Errorf("if/then/else branch is missing %q", field)
		}
	}
	condition, err := exprFromValue(obj["if"])
	if err != nil {
		return nil, fmt.Errorf("in \"if\": %w", err)
	}
	then, err := exprFromValue(obj["then"])
	if err != nil {
		return nil, fmt.Errorf("in \"then\": %w", err)
	}
	alt, err := exprFromValue(obj["else"])
	if err != nil {
		return nil, fmt.Errorf("in \"else\": %w", err)
	}
	return &IfThenElse{If: condition, Then: then, Else: alt}, nil
}

func ruleChainFromValue(obj map[string]any) (Expr, error) {
	rawRules, ok := obj["rules"].([]any)
	if !ok {
		return nil, fmt.Errorf("\"rules\" must be an array")
	}
	rules := make([]Rule, len(rawRules))
	for i, rawRule := range rawRules {
		ruleObj, ok := rawRule.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("rule %d must be an object", i)
		}
		if !hasKey(ruleObj, "when") || !hasKey(ruleObj, "then") {
			return nil, fmt.Errorf("rule %d must have \"when\" and \"then\"", i)
		}
		when, err := exprFromValue(ruleObj["when"])
		if err != nil {
			return nil, fmt.Errorf("in rule %d \"when\": %w", i, err)
		}
		then, err := exprFromValue(ruleObj["then"])
		if err != nil {
			return nil, fmt.Errorf("in rule %d \"then\": %w", i, err)
		}
		rules[i] = Rule{When: when, Then: then}
	}
	chain := &RuleChain{Rules: rules}
	if hasKey(obj, "otherwise") {
		otherwise, err := exprFromValue(obj["otherwise"])
		if err != nil {
			return nil, fmt.Errorf("in \"otherwise\": %w", err)
		}
		chain.Otherwise = otherwise
	}
	return chain, nil
}

func finiteBranchFromValue(obj map[string]any) (Expr, error) {
	branchOn, err := exprFromValue(obj["branchOn"])
	if err != nil {
		return nil, fmt.Errorf("in \"branchOn\": %w", err)
	}
	rawCases, ok := obj["when"].([]any)
	if !ok {
		return nil, fmt.Errorf("\"when\" must be an array of [key, value] pairs")
	}
	cases := make([]Case, len(rawCases))
	for i, rawCase := range rawCases {
		pair, ok := rawCase.([]any)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("case %d must be a [key, value] pair", i)
		}
		key, err := exprFromValue(pair[0])
		if err != nil {
			return nil, fmt.Errorf("in case %d key: %w", i, err)
		}
		value, err := exprFromValue(pair[1])
		if err != nil {
			return nil, fmt.Errorf("in case %d value: %w", i, err)
		}
		cases[i] = Case{Key: key, Value: value}
	}
	branch := &FiniteBranch{BranchOn: branchOn, Cases: cases}
	if hasKey(obj, "otherwise") {
		otherwise, err := exprFromValue(obj["otherwise"])
		if err != nil {
			return nil, fmt.Errorf("in \"otherwise\": %w", err)
		}
		branch.Otherwise = otherwise
	}
	return branch, nil
}

func hasKey(obj map[string]any, key string) bool {
	_, ok := obj[key]
	return ok
}

// MarshalJSON encodes the scope in canonical form. Inputs and calculations
// are emitted as JSON objects in declaration order; JSON objects carry no
// order guarantee, so only the name-to-value association is contractual.
func (s *Scope) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"inputs":{`)
	for i, in := range s.Inputs {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, in.Name, in.Type.String()); err != nil {
			return nil, err
		}
	}
	buf.WriteString(`},"calculations":{`)
	for i, calc := range s.Calculations {
		if i > 0 {
			buf.WriteByte(',')
		}
		encoded, err := EncodeExpr(calc.Expr)
		if err != nil {
			return nil, fmt.Errorf("encoding calculation %q: %w", calc.Name, err)
		}
		if err := writeMember(&buf, calc.Name, encoded); err != nil {
			return nil, err
		}
	}
	buf.WriteString(`},"outputs":`)
	outputs := s.Outputs
	if outputs == nil {
		outputs = []string{}
	}
	encodedOutputs, err := json.Marshal(outputs)
	if err != nil {
		return nil, err
	}
	buf.Write(encodedOutputs)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeMember(buf *bytes.Buffer, name string, value any) error {
	key, err := json.Marshal(name)
	if err != nil {
		return err
	}
	buf.Write(key)
	buf.WriteByte(':')
	switch v := value.(type) {
	case json.RawMessage:
		buf.Write(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	}
	return nil
}

// UnmarshalJSON decodes a scope from canonical form. The inputs and
// calculations objects are walked token by token so that declaration order
// in the document is preserved; the standard map decoding would lose it, and
// calculation evaluation order depends on it. Duplicate names collapse to
// the last writer.
func (s *Scope) UnmarshalJSON(data []byte) error {
	var raw struct {
		Inputs       json.RawMessage `json:"inputs"`
		Calculations json.RawMessage `json:"calculations"`
		Outputs      []string        `json:"outputs"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing scope JSON: %w", err)
	}

	decoded := Scope{}

	if len(raw.Inputs) > 0 && !bytes.Equal(raw.Inputs, []byte("null")) {
		members, err := orderedMembers(raw.Inputs)
		if err != nil {
			return fmt.Errorf("in \"inputs\": %w", err)
		}
		decoded.Inputs = make([]Input, 0, len(members))
		seen := make(map[string]int, len(members))
		for _, m := range members {
			var typeName string
			if err := json.Unmarshal(m.value, &typeName); err != nil {
				return fmt.Errorf("input %q type must be a string", m.name)
			}
			inputType, err := ParseType(typeName)
			if err != nil {
				return fmt.Errorf("input %q: %w", m.name, err)
			}
			if at, dup := seen[m.name]; dup {
				decoded.Inputs[at] = Input{Name: m.name, Type: inputType}
				continue
			}
			seen[m.name] = len(decoded.Inputs)
			decoded.Inputs = append(decoded.Inputs, Input{Name: m.name, Type: inputType})
		}
	}

	if len(raw.Calculations) > 0 && !bytes.Equal(raw.Calculations, []byte("null")) {
		members, err := orderedMembers(raw.Calculations)
		if err != nil {
			return fmt.Errorf("in \"calculations\": %w", err)
		}
		decoded.Calculations = make([]Calculation, 0, len(members))
		seen := make(map[string]int, len(members))
		for _, m := range members {
			expr, err := DecodeExpr(m.value)
			if err != nil {
				return fmt.Errorf("in calculation %q: %w", m.name, err)
			}
			if at, dup := seen[m.name]; dup {
				decoded.Calculations[at] = Calculation{Name: m.name, Expr: expr}
				continue
			}
			seen[m.name] = len(decoded.Calculations)
			decoded.Calculations = append(decoded.Calculations, Calculation{Name: m.name, Expr: expr})
		}
	}

	decoded.Outputs = dedupeOutputs(raw.Outputs)

	*s = decoded
	return nil
}

// DecodeScope decodes a scope document from its canonical JSON form.
func DecodeScope(data []byte) (*Scope, error) {
	s := &Scope{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

// EncodeScope encodes a scope to its canonical JSON form.
func EncodeScope(s *Scope) (json.RawMessage, error) {
	return json.Marshal(s)
}

type objectMember struct {
	name  string
	value json.RawMessage
}

// orderedMembers walks a JSON object with the streaming decoder, returning
// its members in document order.
func orderedMembers(data []byte) ([]objectMember, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected a JSON object, got %v", tok)
	}

	var members []objectMember
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected an object key, got %v", keyTok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("reading value of %q: %w", name, err)
		}
		members = append(members, objectMember{name: name, value: value})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return members, nil
}

// dedupeOutputs keeps first occurrences; outputs is a set on the wire.
func dedupeOutputs(outputs []string) []string {
	if outputs == nil {
		return nil
	}
	seen := make(map[string]bool, len(outputs))
	out := make([]string, 0, len(outputs))
	for _, name := range outputs {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
