package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"time"

	"github.com/born-ml/cngraph/internal/tensor"
)

// Model is a decoded .cnm file.
type Model struct {
	Header  Header
	Tensors map[string]*tensor.Matrix
}

// Write encodes header and tensors in .cnm format.
//
// The tensor table in header is rebuilt from tensors; tensors are laid out
// in name order so identical models produce identical files.
func Write(w io.Writer, header Header, tensors map[string]*tensor.Matrix) error {
	header.FormatVersion = FormatVersion
	header.Writer = "cngraph " + toolchainVersion
	if header.CreatedAt.IsZero() {
		header.CreatedAt = time.Now().UTC()
	}

	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	var offset int64
	header.Tensors = make([]TensorMeta, 0, len(names))
	data := make([]byte, 0)
	for _, name := range names {
		m := tensors[name]
		values := m.ColumnMajor()
		size := int64(len(values) * bytesPerElement)
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   name,
			Rows:   m.Rows(),
			Cols:   m.Cols(),
			Offset: offset,
			Size:   size,
		})
		for _, v := range values {
			data = binary.LittleEndian.AppendUint64(data, math.Float64bits(v))
		}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	fixed := make([]byte, FixedHeaderSize)
	copy(fixed[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixed[4:8], FormatVersion)

	var flags uint32
	if len(header.Metadata) > 0 {
		flags |= FlagHasMetadata
	}
	if len(header.Roles) > 0 {
		flags |= FlagHasRoles
	}
	binary.LittleEndian.PutUint32(fixed[8:12], flags)
	binary.LittleEndian.PutUint64(fixed[16:24], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(fixed[24:32], uint64(len(data)))
	checksum := ComputeChecksum(data)
	copy(fixed[ChecksumOffset:ChecksumOffset+ChecksumSize], checksum[:])

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(fixed); err != nil {
		return fmt.Errorf("failed to write fixed header: %w", err)
	}
	if _, err := bw.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	pos := int64(FixedHeaderSize + len(headerJSON))
	if padding := alignedPosition(pos) - pos; padding > 0 {
		if _, err := bw.Write(make([]byte, padding)); err != nil {
			return fmt.Errorf("failed to write padding: %w", err)
		}
	}
	if _, err := bw.Write(data); err != nil {
		return fmt.Errorf("failed to write tensor data: %w", err)
	}
	return bw.Flush()
}

// WriteFile writes a .cnm file at path.
func WriteFile(path string, header Header, tensors map[string]*tensor.Matrix) (err error) {
	//nolint:gosec // G304: model paths come from user scripts
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close file: %w", cerr)
		}
	}()
	return Write(file, header, tensors)
}
