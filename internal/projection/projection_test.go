package projection

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

const pinnedCid = "bafy2bzaced5n2imaxvvrz6ttuz7hrewypbjb55uzdcmvaqh3qzqwi7jsdygfk"

func TestProject_Scalars(t *testing.T) {
	c, err := cid.Decode(pinnedCid)
	require.NoError(t, err)

	tests := []struct {
		name string
		node datamodel.Node
		want *Value
		kind Kind
	}{
		{"null", datamodel.Null, &Value{Null: ptr(true)}, KindNull},
		{"bool", basicnode.NewBool(true), &Value{Bool: ptr(true)}, KindBool},
		{"integer", basicnode.NewInt(8), &Value{Integer: ptr(int32(8))}, KindInteger},
		{"max int32", basicnode.NewInt(math.MaxInt32), &Value{Integer: ptr(int32(math.MaxInt32))}, KindInteger},
		{"min int32", basicnode.NewInt(math.MinInt32), &Value{Integer: ptr(int32(math.MinInt32))}, KindInteger},
		{"float", basicnode.NewFloat(0.1), &Value{Float: ptr(0.1)}, KindFloat},
		{"string", basicnode.NewString("hello"), &Value{String: ptr("hello")}, KindString},
		{"bytes", basicnode.NewBytes([]byte{0x08, 0x02, 0xAB}), &Value{Bytes: ptr("0802ab")}, KindBytes},
		{"empty bytes", basicnode.NewBytes(nil), &Value{Bytes: ptr("")}, KindBytes},
		{"link", basicnode.NewLink(cidlink.Link{Cid: c}), &Value{Link: ptr(pinnedCid)}, KindLink},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Project(tt.node)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("projection mismatch (-want +got):\n%s", diff)
			}
			require.Equal(t, tt.kind, got.Kind())
			require.Equal(t, 1, Populated(got))
		})
	}
}

func TestProject_FloatBitsPreserved(t *testing.T) {
	for _, f := range []float64{math.SmallestNonzeroFloat64, -0.0, 1e308, 1.0 / 3.0} {
		got, err := Project(basicnode.NewFloat(f))
		require.NoError(t, err)
		require.Equal(t, math.Float64bits(f), math.Float64bits(*got.Float))
	}
}

func TestProject_ListAndMapKeepOrder(t *testing.T) {
	n, err := qp.BuildMap(basicnode.Prototype.Any, 3, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, "z", qp.Int(1))
		qp.MapEntry(ma, "a", qp.List(2, func(la datamodel.ListAssembler) {
			qp.ListEntry(la, qp.String("x"))
			qp.ListEntry(la, qp.Null())
		}))
		qp.MapEntry(ma, "m", qp.Map(0, func(datamodel.MapAssembler) {}))
	})
	require.NoError(t, err)

	got, err := Project(n)
	require.NoError(t, err)

	want := &Value{Map: []MapEntry{
		{Key: "z", Value: &Value{Integer: ptr(int32(1))}},
		{Key: "a", Value: &Value{List: []*Value{
			{String: ptr("x")},
			{Null: ptr(true)},
		}}},
		{Key: "m", Value: &Value{Map: []MapEntry{}}},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("projection mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, KindMap, got.Kind())
	require.Equal(t, KindMap, got.Map[2].Value.Kind())
}

func TestProject_EmptyList(t *testing.T) {
	n, err := qp.BuildList(basicnode.Prototype.Any, 0, func(datamodel.ListAssembler) {})
	require.NoError(t, err)

	got, err := Project(n)
	require.NoError(t, err)
	require.NotNil(t, got.List)
	require.Empty(t, got.List)
	require.Equal(t, KindList, got.Kind())
}

func TestProject_IntegerOverflow(t *testing.T) {
	_, err := Project(basicnode.NewInt(math.MaxInt32 + 1))
	require.ErrorIs(t, err, ErrIntegerOverflow)

	_, err = Project(basicnode.NewInt(math.MinInt32 - 1))
	require.ErrorIs(t, err, ErrIntegerOverflow)

	n, err := qp.BuildMap(basicnode.Prototype.Any, 1, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, "big", qp.List(2, func(la datamodel.ListAssembler) {
			qp.ListEntry(la, qp.Int(1))
			qp.ListEntry(la, qp.Int(1<<40))
		}))
	})
	require.NoError(t, err)

	_, err = Project(n)
	var overflow *OverflowError
	require.True(t, errors.As(err, &overflow))
	require.Equal(t, "big/1", overflow.Path.String())
	require.Equal(t, int64(1<<40), overflow.Value)
	require.Equal(t, "integer overflow at big/1: 1099511627776 does not fit in 32 bits", err.Error())
}

func TestKind(t *testing.T) {
	require.Equal(t, KindInvalid, (*Value)(nil).Kind())
	require.Equal(t, KindInvalid, (&Value{}).Kind())
	require.Equal(t, KindInvalid, (&Value{Bool: ptr(true), String: ptr("x")}).Kind())
	require.Equal(t, 2, Populated(&Value{Bool: ptr(true), String: ptr("x")}))
	require.Equal(t, "integer", KindInteger.String())
}
