package main

import (
	"fmt"
	"sort"
	"strings"

	goeval "github.com/edisonguo/govaluate"
	"github.com/nci/eows/coverages"
)

// Variables usable in record filters.
var recordVariables = map[string]struct{}{
	"identifier": {},
	"kind":       {},
	"begin_time": {},
	"end_time":   {},
	"srid":       {},
	"width":      {},
	"height":     {},
	"bands":      {},
	"band":       {},
	"path":       {},
}

func compileExpression(text string, valid map[string]struct{}) (*goeval.EvaluableExpression, error) {
	if len(strings.TrimSpace(text)) == 0 {
		return nil, nil
	}

	expr, err := goeval.NewEvaluableExpression(text)
	if err != nil {
		return nil, err
	}

	for _, token := range expr.Tokens() {
		if token.Kind != goeval.VARIABLE {
			continue
		}
		varName, ok := token.Value.(string)
		if !ok {
			return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
		}
		if _, found := valid[varName]; !found {
			var names []string
			for n := range valid {
				names = append(names, n)
			}
			sort.Strings(names)
			return nil, fmt.Errorf("variable %v is not supported. Valid variables are %v", varName, names)
		}
	}
	return expr, nil
}

func evaluateBool(expr *goeval.EvaluableExpression, params map[string]interface{}) (bool, error) {
	result, err := expr.Evaluate(params)
	if err != nil {
		return false, err
	}
	val, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("result '%v' is not boolean", result)
	}
	return val, nil
}

// recordFilter selects crawled datasets with an expression over their
// record fields, e.g. "srid == 4326 && begin_time >= '2020-01-01'".
// Times are compared as unix seconds, which is how date literals are read.
type recordFilter struct {
	expr *goeval.EvaluableExpression
}

func newRecordFilter(text string) (*recordFilter, error) {
	expr, err := compileExpression(text, recordVariables)
	if err != nil {
		return nil, fmt.Errorf("filter expression: %v", err)
	}
	return &recordFilter{expr: expr}, nil
}

func (f *recordFilter) Accept(d *dataset) (bool, error) {
	if f.expr == nil {
		return true, nil
	}
	r := &d.Record
	kind := r.Kind
	if len(kind) == 0 {
		kind = coverages.KindRectifiedDataset
	}
	srid := r.SRID
	if srid == 0 {
		srid = 4326
	}
	begin, end, err := unixTimes(r)
	if err != nil {
		return false, err
	}
	params := map[string]interface{}{
		"identifier": r.Identifier,
		"kind":       kind,
		"begin_time": begin,
		"end_time":   end,
		"srid":       float64(srid),
		"width":      float64(r.Size[0]),
		"height":     float64(r.Size[1]),
		"bands":      float64(len(r.Bands)),
		"band":       d.Group,
		"path":       d.Source,
	}
	ok, err := evaluateBool(f.expr, params)
	if err != nil {
		return false, fmt.Errorf("filter expression on '%s': %v", r.Identifier, err)
	}
	return ok, nil
}

func unixTimes(r *coverages.Record) (float64, float64, error) {
	var out [2]float64
	for i, s := range []string{r.BeginTime, r.EndTime} {
		if len(s) == 0 {
			out[i] = out[0]
			continue
		}
		t, err := coverages.ParseTime(s)
		if err != nil {
			return 0, 0, fmt.Errorf("%s: %v", r.Identifier, err)
		}
		out[i] = float64(t.Unix())
	}
	return out[0], out[1], nil
}
