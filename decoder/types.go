package decoder

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/nci/eows/utils"
)

type BaseType int

const (
	TypeString BaseType = iota
	TypeInt
	TypeFloat
	TypeStringList
	TypeIntList
	TypeFloatList
	TypeElement
	TypeLocalName
	TypeTagName
)

var baseTypes = map[string]BaseType{
	"string":     TypeString,
	"int":        TypeInt,
	"float":      TypeFloat,
	"stringlist": TypeStringList,
	"intlist":    TypeIntList,
	"floatlist":  TypeFloatList,
	"element":    TypeElement,
	"localName":  TypeLocalName,
	"tagName":    TypeTagName,
}

func (b BaseType) IsList() bool {
	return b == TypeStringList || b == TypeIntList || b == TypeFloatList
}

// Unbounded is the maximum occurrence of "[n:]" and "[]" expressions.
const Unbounded = math.MaxInt32

// TypeExpr is a base type with occurrence bounds, written as
// "float", "string[]", "int[2]", "element[1:]", "float[:4]" or
// "string[1:3]".
type TypeExpr struct {
	Name      string
	Base      BaseType
	MinOccurs int
	MaxOccurs int
}

var reTypeExpr = regexp.MustCompile(`^([A-Za-z]+)(\[(\d+)?(:(\d+)?)?\])?$`)

func ParseTypeExpr(expr string) (TypeExpr, error) {
	m := reTypeExpr.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return TypeExpr{}, utils.InternalError("invalid type expression '%s'", expr)
	}

	base, ok := baseTypes[m[1]]
	if !ok {
		return TypeExpr{}, utils.InternalError("unknown type '%s' in type expression '%s'", m[1], expr)
	}
	t := TypeExpr{Name: m[1], Base: base, MinOccurs: 1, MaxOccurs: 1}

	if len(m[2]) == 0 {
		return t, nil
	}

	hasColon := len(m[4]) > 0
	low, high := m[3], m[5]
	switch {
	case !hasColon && len(low) > 0:
		n, _ := strconv.Atoi(low)
		t.MinOccurs, t.MaxOccurs = n, n
	case !hasColon:
		t.MinOccurs, t.MaxOccurs = 0, Unbounded
	default:
		t.MinOccurs, t.MaxOccurs = 0, Unbounded
		if len(low) > 0 {
			t.MinOccurs, _ = strconv.Atoi(low)
		}
		if len(high) > 0 {
			t.MaxOccurs, _ = strconv.Atoi(high)
		}
	}

	if t.MinOccurs > t.MaxOccurs {
		return TypeExpr{}, utils.InternalError("minimum occurrence exceeds maximum in type expression '%s'", expr)
	}
	return t, nil
}

// Multiple reports whether the decoded value is a sequence.
func (t TypeExpr) Multiple() bool {
	return t.MaxOccurs > 1 || t.Base.IsList()
}

func (t TypeExpr) String() string {
	switch {
	case t.MinOccurs == 1 && t.MaxOccurs == 1:
		return t.Name
	case t.MinOccurs == t.MaxOccurs:
		return fmt.Sprintf("%s[%d]", t.Name, t.MinOccurs)
	case t.MaxOccurs == Unbounded && t.MinOccurs == 0:
		return t.Name + "[]"
	case t.MaxOccurs == Unbounded:
		return fmt.Sprintf("%s[%d:]", t.Name, t.MinOccurs)
	}
	return fmt.Sprintf("%s[%d:%d]", t.Name, t.MinOccurs, t.MaxOccurs)
}

// convertScalar converts a single token for the scalar and list base
// types. List types convert their items one by one.
func convertScalar(base BaseType, locator, raw string) (interface{}, error) {
	switch base {
	case TypeInt, TypeIntList:
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, utils.TypeConversion(locator, raw, "integer", err)
		}
		return v, nil
	case TypeFloat, TypeFloatList:
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, utils.TypeConversion(locator, raw, "float", err)
		}
		return v, nil
	}
	return raw, nil
}

// convertList converts every item, returning
// []string, []int or []float64.
func convertList(base BaseType, locator string, items []string) (interface{}, error) {
	switch base {
	case TypeIntList, TypeInt:
		out := make([]int, 0, len(items))
		for _, it := range items {
			v, err := convertScalar(TypeInt, locator, it)
			if err != nil {
				return nil, err
			}
			out = append(out, v.(int))
		}
		return out, nil
	case TypeFloatList, TypeFloat:
		out := make([]float64, 0, len(items))
		for _, it := range items {
			v, err := convertScalar(TypeFloat, locator, it)
			if err != nil {
				return nil, err
			}
			out = append(out, v.(float64))
		}
		return out, nil
	}
	out := make([]string, len(items))
	copy(out, items)
	return out, nil
}
