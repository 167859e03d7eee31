// Package ipldql serves a content-addressed IPLD store over GraphQL.
//
// Stored values are projected into IpldValue records (see package
// projection). Links are followed only when a query selects IpldValue.link,
// one hop per executor depth.
package ipldql

import (
	_ "embed"

	schema "github.com/austinabell/graphql-ipld/internal/schema"
)

//go:embed schema.graphql
var SDL string

// Schema builds the executable schema from SDL.
func Schema() (*schema.Schema, error) {
	return schema.BuildFromSDL("schema.graphql", SDL)
}
