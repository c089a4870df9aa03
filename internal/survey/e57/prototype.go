package e57

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

// node is a generic element of the E57 XML section.
type node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
	Nodes   []node     `xml:",any"`
}

func parseXML(data []byte) (*node, error) {
	var root node
	dec := xml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: xml section: %v", ErrMalformedContainer, err)
	}
	if root.XMLName.Local != "e57Root" {
		return nil, fmt.Errorf("%w: root element %q", ErrMalformedContainer, root.XMLName.Local)
	}
	return &root, nil
}

func (n *node) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func (n *node) child(name string) *node {
	if n == nil {
		return nil
	}
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == name {
			return &n.Nodes[i]
		}
	}
	return nil
}

func (n *node) text() string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.Text)
}

// float reads a Float/Integer/ScaledInteger leaf, returning def when absent.
func (n *node) float(def float64) (float64, error) {
	s := n.text()
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: element %s: %v", ErrMalformedContainer, n.XMLName.Local, err)
	}
	return v, nil
}

func (n *node) floatAttr(name string, def float64) (float64, error) {
	s := n.attr(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: attribute %s=%q: %v", ErrMalformedContainer, name, s, err)
	}
	return v, nil
}

func (n *node) intAttr(name string, def int64) (int64, error) {
	s := n.attr(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: attribute %s=%q: %v", ErrMalformedContainer, name, s, err)
	}
	return v, nil
}

type fieldKind int

const (
	kindFloat fieldKind = iota
	kindScaledInteger
	kindInteger
)

// field is one entry of a CompressedVector prototype, which maps to one
// bytestream.
type field struct {
	name   string
	kind   fieldKind
	bits   uint
	min    int64
	max    int64
	scale  float64
	offset float64
}

// decode turns the raw bit pattern read from the stream into a value.
func (f field) decode(raw uint64) float64 {
	switch f.kind {
	case kindFloat:
		if f.bits == 32 {
			return float64(math.Float32frombits(uint32(raw)))
		}
		return math.Float64frombits(raw)
	case kindScaledInteger:
		return float64(int64(raw)+f.min)*f.scale + f.offset
	default:
		return float64(int64(raw) + f.min)
	}
}

// valueRange returns the nominal range of an integer field, used to
// normalise intensity and colour into 16-bit LAS values.
func (f field) valueRange() (lo, hi float64) {
	if f.kind == kindScaledInteger {
		return float64(f.min)*f.scale + f.offset, float64(f.max)*f.scale + f.offset
	}
	return float64(f.min), float64(f.max)
}

func parsePrototype(proto *node) ([]field, error) {
	if proto == nil {
		return nil, fmt.Errorf("%w: points without prototype", ErrMalformedContainer)
	}
	fields := make([]field, 0, len(proto.Nodes))
	for i := range proto.Nodes {
		n := &proto.Nodes[i]
		f := field{name: n.XMLName.Local, scale: 1}
		switch n.attr("type") {
		case "Float":
			f.kind = kindFloat
			f.bits = 64
			if n.attr("precision") == "single" {
				f.bits = 32
			}
		case "ScaledInteger", "Integer":
			f.kind = kindInteger
			var err error
			if f.min, err = n.intAttr("minimum", math.MinInt64); err != nil {
				return nil, err
			}
			if f.max, err = n.intAttr("maximum", math.MaxInt64); err != nil {
				return nil, err
			}
			if f.max < f.min {
				return nil, fmt.Errorf("%w: field %s maximum below minimum", ErrMalformedContainer, f.name)
			}
			f.bits = uint(bits.Len64(uint64(f.max - f.min)))
			if n.attr("type") == "ScaledInteger" {
				f.kind = kindScaledInteger
				if f.scale, err = n.floatAttr("scale", 1); err != nil {
					return nil, err
				}
				if f.offset, err = n.floatAttr("offset", 0); err != nil {
					return nil, err
				}
			}
		default:
			return nil, fmt.Errorf("%w: prototype field %s has type %q", ErrUnsupportedContainerVariant, f.name, n.attr("type"))
		}
		fields = append(fields, f)
	}
	return fields, nil
}
