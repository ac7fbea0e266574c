package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/born-ml/cngraph/internal/tensor"
)

// ReaderOptions configures Read.
type ReaderOptions struct {
	SkipChecksumValidation bool            // Skip checksum validation
	ValidationLevel        ValidationLevel // Validation strictness level
}

// Read decodes a .cnm stream.
func Read(r io.Reader, opts ReaderOptions) (*Model, error) {
	br := bufio.NewReader(r)

	fixed := make([]byte, FixedHeaderSize)
	if _, err := io.ReadFull(br, fixed); err != nil {
		return nil, fmt.Errorf("failed to read fixed header: %w", err)
	}
	if string(fixed[0:4]) != MagicBytes {
		return nil, ErrInvalidMagic
	}
	if version := binary.LittleEndian.Uint32(fixed[4:8]); version != FormatVersion {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, version, FormatVersion)
	}

	headerSize := binary.LittleEndian.Uint64(fixed[16:24])
	dataSize := binary.LittleEndian.Uint64(fixed[24:32])
	var stored [32]byte
	copy(stored[:], fixed[ChecksumOffset:ChecksumOffset+ChecksumSize])

	if headerSize > MaxHeaderSize {
		return nil, ErrHeaderTooLarge
	}

	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(br, headerJSON); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	//nolint:gosec // G115: headerSize is bounded by MaxHeaderSize
	pos := int64(FixedHeaderSize) + int64(headerSize)
	if _, err := io.CopyN(io.Discard, br, alignedPosition(pos)-pos); err != nil {
		return nil, fmt.Errorf("failed to skip padding: %w", err)
	}

	//nolint:gosec // G115: dataSize is validated against the tensor table below
	if err := ValidateHeader(&header, int64(dataSize), opts.ValidationLevel); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	data := make([]byte, dataSize)
	if _, err := io.ReadFull(br, data); err != nil {
		return nil, fmt.Errorf("failed to read tensor data: %w", err)
	}
	if !opts.SkipChecksumValidation {
		if err := ValidateChecksum(ComputeChecksum(data), stored); err != nil {
			return nil, err
		}
	}

	model := &Model{Header: header, Tensors: make(map[string]*tensor.Matrix, len(header.Tensors))}
	for _, meta := range header.Tensors {
		m, err := decodeTensor(meta, data)
		if err != nil {
			return nil, err
		}
		model.Tensors[meta.Name] = m
	}
	return model, nil
}

// ReadFile decodes the .cnm file at path.
func ReadFile(path string, opts ReaderOptions) (*Model, error) {
	//nolint:gosec // G304: model paths come from user scripts
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	model, err := Read(file, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return model, nil
}

func decodeTensor(meta TensorMeta, data []byte) (*tensor.Matrix, error) {
	n := meta.Rows * meta.Cols
	if int64(n*bytesPerElement) != meta.Size {
		return nil, &ValidationError{
			Type:    "size_mismatch",
			Name:    meta.Name,
			Details: fmt.Sprintf("shape [%d,%d] needs %d bytes, table says %d", meta.Rows, meta.Cols, n*bytesPerElement, meta.Size),
		}
	}
	if meta.Offset < 0 || meta.Offset+meta.Size > int64(len(data)) {
		return nil, &ValidationError{Type: "out_of_bounds", Name: meta.Name, Details: "tensor outside data section"}
	}

	values := make([]float64, n)
	chunk := data[meta.Offset : meta.Offset+meta.Size]
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(chunk[i*bytesPerElement:]))
	}
	m := tensor.NewMatrix(meta.Rows, meta.Cols)
	if err := m.SetColumnMajor(values); err != nil {
		return nil, err
	}
	return m, nil
}
