package ipldql

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ipld/go-ipld-prime/codec/dagjson"
	"github.com/ipld/go-ipld-prime/datamodel"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/node/basicnode"

	ident "github.com/austinabell/graphql-ipld/internal/ident"
)

// valueInputFields lists the ValueInput fields in declaration order.
var valueInputFields = []string{"null", "bool", "integer", "float", "string", "bytes", "list", "map", "link"}

// nodeFromInput builds a value from a coerced ValueInput argument.
func nodeFromInput(in map[string]any) (datamodel.Node, error) {
	nb := basicnode.Prototype.Any.NewBuilder()
	if err := assembleInput(nb, in, "value"); err != nil {
		return nil, err
	}
	return nb.Build(), nil
}

func assembleInput(na datamodel.NodeAssembler, in map[string]any, path string) error {
	var set []string
	for _, name := range valueInputFields {
		if in[name] != nil {
			set = append(set, name)
		}
	}
	if len(set) != 1 {
		return invalidValue("%s: exactly one field must be set, got %d (%s)", path, len(set), strings.Join(set, ", "))
	}

	name := set[0]
	v := in[name]
	switch name {
	case "null":
		if b, _ := v.(bool); !b {
			return invalidValue("%s.null: must be true", path)
		}
		return na.AssignNull()

	case "bool":
		b, ok := v.(bool)
		if !ok {
			return invalidValue("%s.bool: expected boolean, got %T", path, v)
		}
		return na.AssignBool(b)

	case "integer":
		i, ok := v.(int)
		if !ok {
			return invalidValue("%s.integer: expected integer, got %T", path, v)
		}
		return na.AssignInt(int64(i))

	case "float":
		f, ok := v.(float64)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return invalidValue("%s.float: expected finite float, got %v", path, v)
		}
		return na.AssignFloat(f)

	case "string":
		s, ok := v.(string)
		if !ok {
			return invalidValue("%s.string: expected string, got %T", path, v)
		}
		return na.AssignString(s)

	case "bytes":
		s, _ := v.(string)
		b, err := hex.DecodeString(s)
		if err != nil {
			return invalidValue("%s.bytes: %v", path, err)
		}
		return na.AssignBytes(b)

	case "list":
		items, ok := v.([]any)
		if !ok {
			return invalidValue("%s.list: expected list, got %T", path, v)
		}
		la, err := na.BeginList(int64(len(items)))
		if err != nil {
			return err
		}
		for i, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				return invalidValue("%s.list[%d]: expected object, got %T", path, i, item)
			}
			if err := assembleInput(la.AssembleValue(), m, path+".list["+strconv.Itoa(i)+"]"); err != nil {
				return err
			}
		}
		return la.Finish()

	case "map":
		entries, ok := v.([]any)
		if !ok {
			return invalidValue("%s.map: expected list of entries, got %T", path, v)
		}
		ma, err := na.BeginMap(int64(len(entries)))
		if err != nil {
			return err
		}
		for i, entry := range entries {
			entryPath := path + ".map[" + strconv.Itoa(i) + "]"
			e, _ := entry.(map[string]any)
			key, ok := e["key"].(string)
			if !ok {
				return invalidValue("%s.key: expected string", entryPath)
			}
			value, ok := e["value"].(map[string]any)
			if !ok {
				return invalidValue("%s.value: expected object", entryPath)
			}
			va, err := ma.AssembleEntry(key)
			if err != nil {
				return invalidValue("%s: %v", entryPath, err)
			}
			if err := assembleInput(va, value, entryPath+".value"); err != nil {
				return err
			}
		}
		return ma.Finish()

	case "link":
		s, _ := v.(string)
		c, err := ident.Parse(s)
		if err != nil {
			return coded(fmt.Errorf("%s.link: %w", path, err))
		}
		return na.AssignLink(cidlink.Link{Cid: c})
	}
	return invalidValue("%s: unknown field %s", path, name)
}

// nodeFromJSON decodes a DAG-JSON document.
func nodeFromJSON(doc string) (datamodel.Node, error) {
	nb := basicnode.Prototype.Any.NewBuilder()
	if err := dagjson.Decode(nb, strings.NewReader(doc)); err != nil {
		return nil, invalidValue("json: %v", err)
	}
	return nb.Build(), nil
}
