// Package keyspace builds the keys and key patterns that encode a property
// graph in a flat key-value store.
//
// Layout:
//
//	node.<id>                               vertex record (value: id)
//	node.<id>.label                         vertex label
//	node.<id>.label.<label>                 label marker (scan index)
//	node.<id>.property.<key>                JSON property value
//	node.<id>.pkeys.{meta,c.<n>}            property-key registry (chunked)
//	node.<id>.outE[.<label>].<edgeId>       legacy incident-edge pointer
//	node.<id>.outV[.<label>].<neighborId>   legacy neighbor pointer
//	node.<id>.outE[.<label>].__index        legacy JSON-array index
//	adj.<kind>.<id>[.label.<label>].{meta,c.<n>}  chunked adjacency set
//	edge.<id>                               edge record
//	edge.<id>.{label,incoming,outgoing}     label / source / target
//	edge.<id>.property.<key>                JSON property value
//	edge.<id>.pkeys.{meta,c.<n>}            property-key registry
//	edges.<id>                              global edge index
//
// "incoming" holds the edge's source vertex and "outgoing" its target; the
// names describe which way the edge points at the stored vertex id.
//
// Everything here is a pure function of its arguments.
package keyspace

import (
	"strconv"
	"strings"
)

const (
	vertexRoot    = "node"
	edgeRoot      = "edge"
	edgeIndexRoot = "edges"
	adjRoot       = "adj"

	// IndexToken names a legacy JSON-array index key.
	IndexToken = "__index"
)

// Direction of an adjacency relation relative to a vertex.
type Direction int

const (
	Out Direction = iota
	In
)

func (d Direction) String() string {
	if d == In {
		return "in"
	}
	return "out"
}

// Kind is one of the four adjacency relations kept per vertex.
type Kind string

const (
	OutVertices Kind = "outV"
	InVertices  Kind = "inV"
	OutEdges    Kind = "outE"
	InEdges     Kind = "inE"
)

// Kinds lists every adjacency kind.
var Kinds = []Kind{OutVertices, InVertices, OutEdges, InEdges}

// NeighborKind returns the neighbor-id relation for d.
func NeighborKind(d Direction) Kind {
	if d == In {
		return InVertices
	}
	return OutVertices
}

// EdgeKind returns the incident-edge relation for d.
func EdgeKind(d Direction) Kind {
	if d == In {
		return InEdges
	}
	return OutEdges
}

// ValidToken reports whether s can be embedded as one key token. Tokens use
// the character set every backend accepts, NATS KV being the narrowest:
// ASCII letters, digits and "-", "_", "/", "=".
func ValidToken(s string) bool {
	if s == "" || s == IndexToken {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		case c == '-', c == '_', c == '/', c == '=':
		default:
			return false
		}
	}
	return true
}

func join(parts ...string) string {
	return strings.Join(parts, ".")
}

// Token returns the i-th token of key, or "" when out of range.
func Token(key string, i int) string {
	for n := 0; ; n++ {
		tok, rest, found := strings.Cut(key, ".")
		if n == i {
			return tok
		}
		if !found {
			return ""
		}
		key = rest
	}
}

// LastToken returns the final token of key.
func LastToken(key string) string {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		return key[i+1:]
	}
	return key
}

// Everything matches every key in the store.
const Everything = ">"

// Vertices

const (
	// AllVertices matches every vertex record.
	AllVertices = vertexRoot + ".*"
	// AllVertexKeys matches every key under the vertex root.
	AllVertexKeys = vertexRoot + ".>"
)

func Vertex(id string) string            { return join(vertexRoot, id) }
func VertexDescendants(id string) string { return join(vertexRoot, id, ">") }
func VertexLabel(id string) string       { return join(vertexRoot, id, "label") }

// VertexLabelMarker is the per-label marker used by label scans.
func VertexLabelMarker(id, label string) string {
	return join(vertexRoot, id, "label", label)
}

// VerticesWithLabel matches the label markers of every vertex labeled label.
// The vertex id is token 1 of each match.
func VerticesWithLabel(label string) string {
	return join(vertexRoot, "*", "label", label)
}

func VertexProperty(id, key string) string { return join(vertexRoot, id, "property", key) }
func VertexProperties(id string) string    { return join(vertexRoot, id, "property", "*") }

// VertexPropertyKeys is the registry of property names set on a vertex.
func VertexPropertyKeys(id string) ChunkedSet {
	return ChunkedSet{base: join(vertexRoot, id, "pkeys")}
}

// Edges

const (
	// AllEdges matches every edge record.
	AllEdges = edgeRoot + ".*"
	// AllEdgeKeys matches every key under the edge root.
	AllEdgeKeys = edgeRoot + ".>"
	// AllEdgeIndex matches the global edge index.
	AllEdgeIndex = edgeIndexRoot + ".*"
	// AllEdgeIndexKeys matches every key under the edge index root.
	AllEdgeIndexKeys = edgeIndexRoot + ".>"
)

func Edge(id string) string            { return join(edgeRoot, id) }
func EdgeDescendants(id string) string { return join(edgeRoot, id, ">") }
func EdgeLabel(id string) string       { return join(edgeRoot, id, "label") }

// EdgeIncoming holds the source (from) vertex id.
func EdgeIncoming(id string) string { return join(edgeRoot, id, "incoming") }

// EdgeOutgoing holds the target (to) vertex id.
func EdgeOutgoing(id string) string { return join(edgeRoot, id, "outgoing") }

func EdgeProperty(id, key string) string { return join(edgeRoot, id, "property", key) }
func EdgeProperties(id string) string    { return join(edgeRoot, id, "property", "*") }

// EdgePropertyKeys is the registry of property names set on an edge.
func EdgePropertyKeys(id string) ChunkedSet {
	return ChunkedSet{base: join(edgeRoot, id, "pkeys")}
}

// EdgeIndex is the global edge index entry for id.
func EdgeIndex(id string) string { return join(edgeIndexRoot, id) }

// Chunked adjacency

// AllAdjacencyKeys matches every chunked adjacency key.
const AllAdjacencyKeys = adjRoot + ".>"

// Adjacency returns the chunked set for one relation of vertexID. An empty
// label selects the unlabeled set.
func Adjacency(kind Kind, vertexID, label string) ChunkedSet {
	if label == "" {
		return ChunkedSet{base: join(adjRoot, string(kind), vertexID)}
	}
	return ChunkedSet{base: join(adjRoot, string(kind), vertexID, "label", label)}
}

// AdjacencyDescendants matches every key of one relation of vertexID,
// labeled sets included.
func AdjacencyDescendants(kind Kind, vertexID string) string {
	return join(adjRoot, string(kind), vertexID, ">")
}

// Legacy adjacency

func legacyBase(kind Kind, vertexID, label string) string {
	if label == "" {
		return join(vertexRoot, vertexID, string(kind))
	}
	return join(vertexRoot, vertexID, string(kind), label)
}

// LegacyPointer is the direct pointer key node.<v>.<kind>[.<label>].<target>.
func LegacyPointer(kind Kind, vertexID, label, target string) string {
	return join(legacyBase(kind, vertexID, label), target)
}

// LegacyPointers matches the direct pointers of one relation; the target is
// the last token of each match. The index key also matches and must be
// skipped by callers.
func LegacyPointers(kind Kind, vertexID, label string) string {
	return join(legacyBase(kind, vertexID, label), "*")
}

// LegacyPointersAnyLabel matches unlabeled and labeled pointers alike.
func LegacyPointersAnyLabel(kind Kind, vertexID string) string {
	return join(vertexRoot, vertexID, string(kind), ">")
}

// LegacyIndex is the JSON-array index key of one relation.
func LegacyIndex(kind Kind, vertexID, label string) string {
	return join(legacyBase(kind, vertexID, label), IndexToken)
}

// ChunkedSet names the keys of one chunked set.
type ChunkedSet struct {
	base string
}

// NewChunkedSet returns a chunked set rooted at base.
func NewChunkedSet(base string) ChunkedSet { return ChunkedSet{base: base} }

// Base returns the key prefix of the set.
func (s ChunkedSet) Base() string { return s.base }

// Meta is the key holding {tail, count}.
func (s ChunkedSet) Meta() string { return s.base + ".meta" }

// Chunk is the key of chunk n.
func (s ChunkedSet) Chunk(n int) string { return s.base + ".c." + strconv.Itoa(n) }

// Chunks matches every chunk key of the set.
func (s ChunkedSet) Chunks() string { return s.base + ".c.*" }
