package serialization

import (
	"encoding/json"
	"time"
)

// Format constants.
const (
	MagicBytes       = "CNGM"
	FormatVersion    = 1
	HeaderAlignment  = 64
	FixedHeaderSize  = 64
	ChecksumSize     = 32
	ChecksumOffset   = 0x20
	FileExtension    = ".cnm"
	bytesPerElement  = 8
	toolchainVersion = "0.1.0"
)

// Flags for the .cnm format.
const (
	FlagHasMetadata uint32 = 1 << 0
	FlagHasRoles    uint32 = 1 << 1
)

// Header is the JSON header of a .cnm file.
type Header struct {
	FormatVersion int                 `json:"format_version"`
	ModelVersion  int                 `json:"model_version"`
	Writer        string              `json:"writer"`
	CreatedAt     time.Time           `json:"created_at"`
	Nodes         []NodeRecord        `json:"nodes"`
	Roles         map[string][]string `json:"roles,omitempty"`
	Tensors       []TensorMeta        `json:"tensors"`
	Metadata      map[string]string   `json:"metadata,omitempty"`
}

// NodeRecord holds the base fields every node persists, followed by the
// node type's own attributes.
type NodeRecord struct {
	Name           string          `json:"name"`
	Operation      string          `json:"op"`
	Inputs         []string        `json:"inputs,omitempty"`
	NeedsGradient  bool            `json:"needs_gradient"`
	Image          [3]int          `json:"image"` // width, height, channels
	SamplesPerStep int             `json:"samples_per_step,omitempty"`
	Attrs          json.RawMessage `json:"attrs,omitempty"`
}

// TensorMeta describes one matrix in the data section.
type TensorMeta struct {
	Name   string `json:"name"`
	Rows   int    `json:"rows"`
	Cols   int    `json:"cols"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
}

// ValueTensorName names the tensor holding a node's value.
func ValueTensorName(node string) string {
	return node + ".value"
}

func alignedPosition(pos int64) int64 {
	return pos + (HeaderAlignment-(pos%HeaderAlignment))%HeaderAlignment
}
