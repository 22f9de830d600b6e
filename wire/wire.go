// Package wire defines the JSON-shaped Change and Patch formats that
// cross the boundary between replicas, and between the backend and the
// frontend cache. Nothing in this package has behavior; it exists so
// every other package can share one definition of the wire contract.
package wire

import "github.com/lattice-sh/doccrdt/clock"

// RootID is the object id of the document root, the all-zeros UUID.
const RootID = "00000000-0000-0000-0000-000000000000"

// HeadElem is the virtual predecessor of a list or text's first element.
const HeadElem = "_head"

// Action names an operation's kind.
type Action string

const (
	MakeMap   Action = "makeMap"
	MakeTable Action = "makeTable"
	MakeList  Action = "makeList"
	MakeText  Action = "makeText"
	Ins       Action = "ins"
	Set       Action = "set"
	Del       Action = "del"
	Link      Action = "link"
)

// Datatype annotates how Op.Value should be interpreted. The empty
// string means "plain JSON value"; "timestamp" is the only other
// datatype this module understands.
type Datatype string

const TimestampDatatype Datatype = "timestamp"

// Op is one primitive edit within a Change.
type Op struct {
	Action Action `json:"action"`
	Obj    string `json:"obj"`

	// Key holds a map key for set/del/link on a map or table, an
	// element id for set/del/link on a list or text, or the parent
	// element id (or HeadElem) for ins.
	Key string `json:"key,omitempty"`

	// Elem is the per-list counter assigned by the originating actor
	// for an ins op.
	Elem int `json:"elem,omitempty"`

	Value    interface{} `json:"value,omitempty"`
	Datatype Datatype    `json:"datatype,omitempty"`
}

// Change is a causally-stamped, indivisible unit of user intent.
type Change struct {
	Actor   string      `json:"actor"`
	Seq     int         `json:"seq"`
	Deps    clock.Clock `json:"deps"`
	Message string      `json:"message,omitempty"`
	Ops     []Op        `json:"ops"`
}

// ObjType names the kind of object a diff targets.
type ObjType string

const (
	MapType   ObjType = "map"
	TableType ObjType = "table"
	ListType  ObjType = "list"
	TextType  ObjType = "text"
)

// DiffAction names the kind of change a Diff describes.
type DiffAction string

const (
	CreateDiff DiffAction = "create"
	SetDiff    DiffAction = "set"
	InsertDiff DiffAction = "insert"
	RemoveDiff DiffAction = "remove"
)

// Conflict is one of the concurrent-but-losing field ops reported
// alongside a Diff's winning value.
type Conflict struct {
	Actor    string      `json:"actor"`
	Value    interface{} `json:"value,omitempty"`
	Link     bool        `json:"link,omitempty"`
	Datatype Datatype    `json:"datatype,omitempty"`
}

// Diff describes one observable change to the materialized document.
type Diff struct {
	Action DiffAction `json:"action"`
	Type   ObjType    `json:"type"`
	Obj    string     `json:"obj"`

	Key    string `json:"key,omitempty"`
	Index  int    `json:"index,omitempty"`
	ElemID string `json:"elemId,omitempty"`

	Value    interface{} `json:"value,omitempty"`
	Datatype Datatype    `json:"datatype,omitempty"`
	Link     bool        `json:"link,omitempty"`

	Path      []interface{} `json:"path,omitempty"`
	Conflicts []Conflict    `json:"conflicts,omitempty"`
}

// Patch is the diff of the document between two backend states.
type Patch struct {
	Clock    clock.Clock `json:"clock"`
	Deps     clock.Clock `json:"deps"`
	CanUndo  bool        `json:"canUndo"`
	CanRedo  bool        `json:"canRedo"`
	Diffs    []Diff      `json:"diffs"`
}
