// Package subset parses WCS 2.0 trim and slice expressions and evaluates
// them against the temporal and spatial extents of EO objects.
package subset

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nci/eows/coverages"
	"github.com/nci/eows/decoder"
	"github.com/nci/eows/utils"
)

type Axis int

const (
	AxisTime Axis = iota
	AxisX
	AxisY
)

func (a Axis) String() string {
	switch a {
	case AxisTime:
		return "time"
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	}
	return fmt.Sprintf("Axis(%d)", int(a))
}

var axisNames = map[string]Axis{
	"t":              AxisTime,
	"time":           AxisTime,
	"phenomenonTime": AxisTime,
	"x":              AxisX,
	"lon":            AxisX,
	"Lon":            AxisX,
	"long":           AxisX,
	"Long":           AxisX,
	"y":              AxisY,
	"lat":            AxisY,
	"Lat":            AxisY,
}

// AxisOf maps a dimension name to its axis.
func AxisOf(dimension string) (Axis, error) {
	a, ok := axisNames[dimension]
	if !ok {
		return 0, utils.InvalidAxisLabel(dimension)
	}
	return a, nil
}

// Coord is a bound or slice point. Time is set on the temporal axis,
// Value on the spatial axes.
type Coord struct {
	Time  time.Time
	Value float64
}

// Subset is either a *Slice or a *Trim.
type Subset interface {
	Axis() Axis
	Dim() string
	Crs() string
}

type Slice struct {
	Dimension string
	CRS       string
	Point     Coord

	axis Axis
}

// Trim bounds are nil when unbounded on that side.
type Trim struct {
	Dimension string
	CRS       string
	Low       *Coord
	High      *Coord

	axis Axis
}

func (s *Slice) Axis() Axis  { return s.axis }
func (s *Slice) Dim() string { return s.Dimension }
func (s *Slice) Crs() string { return s.CRS }

func (t *Trim) Axis() Axis  { return t.axis }
func (t *Trim) Dim() string { return t.Dimension }
func (t *Trim) Crs() string { return t.CRS }

// NewSlice validates the axis and converts the slice point.
func NewSlice(dimension, crs, point string, quoted bool) (*Slice, error) {
	axis, err := AxisOf(dimension)
	if err != nil {
		return nil, err
	}
	c, err := convertToken(axis, crs, point, quoted)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, utils.InvalidSubsetting("subset", fmt.Sprintf("Missing slice point for axis '%s'.", dimension))
	}
	return &Slice{Dimension: dimension, CRS: crs, Point: *c, axis: axis}, nil
}

// NewTrim validates the axis and converts both bounds. An empty or "*"
// bound is unbounded.
func NewTrim(dimension, crs, low, high string, quoted bool) (*Trim, error) {
	axis, err := AxisOf(dimension)
	if err != nil {
		return nil, err
	}
	l, err := convertToken(axis, crs, low, quoted)
	if err != nil {
		return nil, err
	}
	h, err := convertToken(axis, crs, high, quoted)
	if err != nil {
		return nil, err
	}
	if l != nil && h != nil {
		if (axis == AxisTime && l.Time.After(h.Time)) || (axis != AxisTime && l.Value > h.Value) {
			return nil, utils.InvalidSubsetting("subset", "Invalid bounds: lower bound greater than upper bound.")
		}
	}
	return &Trim{Dimension: dimension, CRS: crs, Low: l, High: h, axis: axis}, nil
}

func convertToken(axis Axis, crs, token string, quoted bool) (*Coord, error) {
	token = strings.TrimSpace(token)
	if len(token) == 0 || token == "*" {
		return nil, nil
	}

	if axis == AxisTime {
		if quoted {
			if len(token) < 2 || !strings.HasPrefix(token, `"`) || !strings.HasSuffix(token, `"`) {
				return nil, utils.InvalidSubsetting("subset", `Date/Time tokens have to be enclosed in quotation marks (").`)
			}
			token = token[1 : len(token)-1]
		}
		t, err := coverages.ParseTime(token)
		if err != nil {
			return nil, utils.InvalidSubsetting("subset", fmt.Sprintf("Cannot convert token '%s' to Date/Time.", token))
		}
		return &Coord{Time: t}, nil
	}

	if crs == ImageCRS {
		i, err := strconv.Atoi(token)
		if err != nil {
			return nil, utils.InvalidSubsetting("subset", fmt.Sprintf("Cannot convert token '%s' to integer.", token))
		}
		return &Coord{Value: float64(i)}, nil
	}
	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return nil, utils.InvalidSubsetting("subset", fmt.Sprintf("Cannot convert token '%s' to number.", token))
	}
	return &Coord{Value: v}, nil
}

var kvpSubsetRE = regexp.MustCompile(`^(\w+)(,([^(]+))?\(([^,]*)(,([^)]*))?\)$`)

// ParseKVP parses the values of the repeatable KVP subset parameter,
// each of the form dimension[,crs](low[,high]).
func ParseKVP(values []string) ([]Subset, error) {
	var out []Subset
	for _, v := range values {
		s, err := parseKVPExpr(v)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func parseKVPExpr(expr string) (Subset, error) {
	m := kvpSubsetRE.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return nil, utils.InvalidSubsetting("subset", fmt.Sprintf("Invalid subsetting operation 'subset=%s'.", expr))
	}
	dimension, crs := m[1], strings.TrimSpace(m[3])
	if len(m[5]) > 0 {
		return NewTrim(dimension, crs, m[4], m[6], true)
	}
	return NewSlice(dimension, crs, m[4], true)
}

var (
	dimensionPath  = decoder.MustCompilePath("{*}Dimension")
	crsAttrPath    = decoder.MustCompilePath("{*}Dimension/@crs")
	trimLowPath    = decoder.MustCompilePath("{*}TrimLow")
	trimHighPath   = decoder.MustCompilePath("{*}TrimHigh")
	slicePointPath = decoder.MustCompilePath("{*}SlicePoint")
)

// ParseXML reads wcs:DimensionTrim and wcs:DimensionSlice elements.
func ParseXML(nodes []decoder.Node) ([]Subset, error) {
	var out []Subset
	for _, n := range nodes {
		dims, err := dimensionPath.Select(n)
		if err != nil {
			return nil, err
		}
		if len(dims) != 1 {
			return nil, utils.InvalidSubsetting("subset", fmt.Sprintf("Expected one wcs:Dimension in '%s'.", decoder.Reverse(n)))
		}
		dimension := dims[0].Text()
		crs := firstText(crsAttrPath, n)

		switch n.LocalName() {
		case "DimensionTrim":
			t, err := NewTrim(dimension, crs, firstText(trimLowPath, n), firstText(trimHighPath, n), false)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		case "DimensionSlice":
			s, err := NewSlice(dimension, crs, firstText(slicePointPath, n), false)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		default:
			return nil, utils.InvalidSubsetting("subset", fmt.Sprintf("Unexpected subset element '%s'.", n.QualifiedName()))
		}
	}
	return out, nil
}

func firstText(p decoder.Path, n decoder.Node) string {
	nodes, err := p.Select(n)
	if err != nil || len(nodes) == 0 {
		return ""
	}
	return nodes[0].Text()
}
