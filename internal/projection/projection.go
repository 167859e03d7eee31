// Package projection flattens IPLD values into records with one optional
// slot per data model kind, the shape served by the GraphQL layer.
package projection

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/ipld/go-ipld-prime/datamodel"
)

// ErrIntegerOverflow is matched by errors for integers outside the int32
// range of the Integer slot.
var ErrIntegerOverflow = errors.New("integer overflow")

// Kind names the populated slot of a Value.
type Kind int

const (
	KindInvalid Kind = iota
	KindNull
	KindBool
	KindInteger
	KindFloat
	KindString
	KindBytes
	KindList
	KindMap
	KindLink
)

var kindNames = [...]string{"invalid", "null", "bool", "integer", "float", "string", "bytes", "list", "map", "link"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is a projected value. Exactly one slot is set. Bytes are lowercase
// hex and Link is the textual identifier, not yet dereferenced.
type Value struct {
	Null    *bool
	Bool    *bool
	Integer *int32
	Float   *float64
	String  *string
	Bytes   *string
	List    []*Value
	Map     []MapEntry
	Link    *string
}

// MapEntry is one key/value pair of a projected map, in source order.
type MapEntry struct {
	Key   string
	Value *Value
}

// Kind reports the populated slot, or KindInvalid when none or several are.
func (v *Value) Kind() Kind {
	if v == nil || Populated(v) != 1 {
		return KindInvalid
	}
	switch {
	case v.Null != nil:
		return KindNull
	case v.Bool != nil:
		return KindBool
	case v.Integer != nil:
		return KindInteger
	case v.Float != nil:
		return KindFloat
	case v.String != nil:
		return KindString
	case v.Bytes != nil:
		return KindBytes
	case v.List != nil:
		return KindList
	case v.Map != nil:
		return KindMap
	default:
		return KindLink
	}
}

// Populated counts the slots of v that are set. Empty but non-nil List and
// Map slots count as set.
func Populated(v *Value) int {
	if v == nil {
		return 0
	}
	n := 0
	for _, set := range []bool{
		v.Null != nil, v.Bool != nil, v.Integer != nil, v.Float != nil, v.String != nil,
		v.Bytes != nil, v.List != nil, v.Map != nil, v.Link != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// OverflowError reports an integer that does not fit the Integer slot.
type OverflowError struct {
	Path  datamodel.Path
	Value int64
}

func (e *OverflowError) Error() string {
	if e.Path.Len() == 0 {
		return fmt.Sprintf("integer overflow: %d does not fit in 32 bits", e.Value)
	}
	return fmt.Sprintf("integer overflow at %s: %d does not fit in 32 bits", e.Path, e.Value)
}

func (e *OverflowError) Is(target error) bool { return target == ErrIntegerOverflow }

// Project converts node into a Value. Lists and maps are projected
// recursively with their order kept; links are not followed.
func Project(node datamodel.Node) (*Value, error) {
	return project(node, datamodel.Path{})
}

func project(node datamodel.Node, path datamodel.Path) (*Value, error) {
	switch node.Kind() {
	case datamodel.Kind_Null:
		t := true
		return &Value{Null: &t}, nil

	case datamodel.Kind_Bool:
		b, err := node.AsBool()
		if err != nil {
			return nil, err
		}
		return &Value{Bool: &b}, nil

	case datamodel.Kind_Int:
		i, err := node.AsInt()
		if err != nil {
			return nil, err
		}
		if i < math.MinInt32 || i > math.MaxInt32 {
			return nil, &OverflowError{Path: path, Value: i}
		}
		i32 := int32(i)
		return &Value{Integer: &i32}, nil

	case datamodel.Kind_Float:
		f, err := node.AsFloat()
		if err != nil {
			return nil, err
		}
		return &Value{Float: &f}, nil

	case datamodel.Kind_String:
		s, err := node.AsString()
		if err != nil {
			return nil, err
		}
		return &Value{String: &s}, nil

	case datamodel.Kind_Bytes:
		b, err := node.AsBytes()
		if err != nil {
			return nil, err
		}
		h := hex.EncodeToString(b)
		return &Value{Bytes: &h}, nil

	case datamodel.Kind_List:
		list := make([]*Value, 0, node.Length())
		it := node.ListIterator()
		for it != nil && !it.Done() {
			idx, item, err := it.Next()
			if err != nil {
				return nil, err
			}
			pv, err := project(item, path.AppendSegmentInt(idx))
			if err != nil {
				return nil, err
			}
			list = append(list, pv)
		}
		return &Value{List: list}, nil

	case datamodel.Kind_Map:
		entries := make([]MapEntry, 0, node.Length())
		it := node.MapIterator()
		for it != nil && !it.Done() {
			k, item, err := it.Next()
			if err != nil {
				return nil, err
			}
			key, err := k.AsString()
			if err != nil {
				return nil, err
			}
			pv, err := project(item, path.AppendSegmentString(key))
			if err != nil {
				return nil, err
			}
			entries = append(entries, MapEntry{Key: key, Value: pv})
		}
		return &Value{Map: entries}, nil

	case datamodel.Kind_Link:
		l, err := node.AsLink()
		if err != nil {
			return nil, err
		}
		s := l.String()
		return &Value{Link: &s}, nil
	}
	return nil, fmt.Errorf("cannot project %s node", node.Kind())
}
