package serialization

import (
	"fmt"
	"sort"
	"strings"
)

// Validation limits for resource protection.
const (
	MaxHeaderSize  = 100 * 1024 * 1024
	MaxNodeCount   = 100_000
	MaxNameLen     = 4096
	maxTensorCount = MaxNodeCount
)

// ValidationLevel controls the strictness of validation.
type ValidationLevel int

const (
	// ValidationStrict performs all checks, including tensor offsets and node wiring.
	ValidationStrict ValidationLevel = iota
	// ValidationNormal checks names and counts only.
	ValidationNormal
	// ValidationNone skips validation.
	ValidationNone
)

// ValidateTensorOffsets checks for overlapping tensor offsets and out-of-bounds access.
func ValidateTensorOffsets(tensors []TensorMeta, dataSize int64) error {
	if len(tensors) > maxTensorCount {
		return &ValidationError{
			Type:    "too_many_nodes",
			Details: fmt.Sprintf("got %d tensors, max %d", len(tensors), maxTensorCount),
		}
	}

	sorted := make([]TensorMeta, len(tensors))
	copy(sorted, tensors)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Offset < sorted[j].Offset
	})

	for i, t := range sorted {
		if t.Offset < 0 || t.Size < 0 {
			return &ValidationError{
				Type:    "negative_offset",
				Name:    t.Name,
				Details: fmt.Sprintf("offset=%d, size=%d", t.Offset, t.Size),
			}
		}
		if t.Offset+t.Size > dataSize {
			return &ValidationError{
				Type:    "out_of_bounds",
				Name:    t.Name,
				Details: fmt.Sprintf("offset %d + size %d > data_size %d", t.Offset, t.Size, dataSize),
			}
		}
		if i < len(sorted)-1 {
			next := sorted[i+1]
			if t.Offset+t.Size > next.Offset {
				return &ValidationError{
					Type:    "offset_overlap",
					Name:    t.Name,
					Other:   next.Name,
					Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap", t.Offset, t.Offset+t.Size, next.Offset, next.Offset+next.Size),
				}
			}
		}
	}
	return nil
}

// ValidateName rejects empty, oversized and path-like node names.
func ValidateName(name string) error {
	switch {
	case name == "":
		return &ValidationError{Type: "invalid_name", Details: "empty name"}
	case len(name) > MaxNameLen:
		return &ValidationError{Type: "name_too_long", Name: name, Details: fmt.Sprintf("length %d > max %d", len(name), MaxNameLen)}
	case strings.ContainsAny(name, "/\\\x00"):
		return &ValidationError{Type: "invalid_name", Name: name, Details: "contains a path separator or null byte"}
	}
	return nil
}

// ValidateNodes checks that node names are unique and every input and role
// member names a node in the file.
func ValidateNodes(h *Header) error {
	known := make(map[string]bool, len(h.Nodes))
	for _, n := range h.Nodes {
		if err := ValidateName(n.Name); err != nil {
			return err
		}
		if known[n.Name] {
			return &ValidationError{Type: "duplicate_name", Name: n.Name, Details: "node defined twice"}
		}
		known[n.Name] = true
	}
	for _, n := range h.Nodes {
		for _, in := range n.Inputs {
			if in != "" && !known[in] {
				return &ValidationError{Type: "unknown_input", Name: n.Name, Other: in, Details: "input is not defined in the file"}
			}
		}
	}
	for role, members := range h.Roles {
		for _, m := range members {
			if !known[m] {
				return &ValidationError{Type: "unknown_input", Name: role, Other: m, Details: "role member is not defined in the file"}
			}
		}
	}
	return nil
}

// ValidateHeader performs header validation at the requested level.
func ValidateHeader(h *Header, dataSize int64, level ValidationLevel) error {
	if level == ValidationNone {
		return nil
	}
	if len(h.Nodes) > MaxNodeCount {
		return &ValidationError{
			Type:    "too_many_nodes",
			Details: fmt.Sprintf("got %d, max %d", len(h.Nodes), MaxNodeCount),
		}
	}
	for _, t := range h.Tensors {
		if len(t.Name) > MaxNameLen {
			return &ValidationError{Type: "name_too_long", Name: t.Name, Details: "tensor name"}
		}
	}
	if level == ValidationStrict {
		if err := ValidateTensorOffsets(h.Tensors, dataSize); err != nil {
			return err
		}
		if err := ValidateNodes(h); err != nil {
			return err
		}
	}
	return nil
}
