package processor

import (
	"fmt"
	"strings"

	goeval "github.com/edisonguo/govaluate"
	"github.com/nci/eows/coverages"
)

// BandExpressions are the output channels of a rendering request. Every
// output channel is an expression over the source bands in VarList.
type BandExpressions struct {
	ExprText    []string
	Expressions []*goeval.EvaluableExpression
	ExprNames   []string
	VarList     []string
}

func variables(expr *goeval.EvaluableExpression) ([]string, error) {
	var vars []string
	for _, token := range expr.Tokens() {
		if token.Kind == goeval.VARIABLE {
			name, ok := token.Value.(string)
			if !ok {
				return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
			}
			vars = append(vars, name)
		}
	}
	return vars, nil
}

// ParseBandExpressions expands the requested channels of rt. Plain channels
// map to themselves; derived channels contribute the source channels their
// expression references. An empty request selects every channel.
func ParseBandExpressions(rt *coverages.RangeType, channels []string) (*BandExpressions, error) {
	if rt == nil {
		return nil, fmt.Errorf("coverage has no range type")
	}
	if len(channels) == 0 {
		for _, c := range rt.Channels {
			channels = append(channels, c.Name)
		}
	}

	be := &BandExpressions{}
	used := map[string]bool{}
	addVar := func(name string) {
		if !used[name] {
			used[name] = true
			be.VarList = append(be.VarList, name)
		}
	}

	for _, name := range channels {
		idx := rt.Index(name)
		if idx < 0 {
			return nil, fmt.Errorf("unknown channel '%s'", name)
		}
		ch := rt.Channels[idx]

		text := strings.TrimSpace(ch.Expression)
		if len(text) == 0 {
			text = "[" + ch.Name + "]"
		}
		expr, err := goeval.NewEvaluableExpression(text)
		if err != nil {
			return nil, fmt.Errorf("channel '%s': %v", ch.Name, err)
		}
		vars, err := variables(expr)
		if err != nil {
			return nil, err
		}
		for _, v := range vars {
			vi := rt.Index(v)
			if vi < 0 {
				return nil, fmt.Errorf("channel '%s' references unknown band '%s'", ch.Name, v)
			}
			if vi != idx && len(rt.Channels[vi].Expression) > 0 {
				return nil, fmt.Errorf("channel '%s' references derived band '%s'", ch.Name, v)
			}
			addVar(v)
		}

		be.ExprText = append(be.ExprText, text)
		be.Expressions = append(be.Expressions, expr)
		be.ExprNames = append(be.ExprNames, ch.Name)
	}
	return be, nil
}

// Evaluate computes the output channels for one pixel of source values.
func (be *BandExpressions) Evaluate(values map[string]float64) ([]float64, error) {
	params := make(map[string]interface{}, len(values))
	for k, v := range values {
		params[k] = v
	}

	out := make([]float64, len(be.Expressions))
	for i, expr := range be.Expressions {
		res, err := expr.Evaluate(params)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", be.ExprNames[i], err)
		}
		f, ok := res.(float64)
		if !ok {
			return nil, fmt.Errorf("%s: expression result %v is not numeric", be.ExprNames[i], res)
		}
		out[i] = f
	}
	return out, nil
}
