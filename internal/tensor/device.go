package tensor

import (
	"errors"
	"fmt"
)

// Device represents the compute device for matrix data.
type Device int

// Supported compute devices. Only CPU has kernels.
const (
	CPU Device = iota
	CUDA
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case CUDA:
		return "CUDA"
	default:
		return "Unknown"
	}
}

// Common errors.
var (
	ErrShapeMismatch     = errors.New("matrix shape mismatch")
	ErrReadOnly          = errors.New("write through a read-only matrix view")
	ErrUnsupportedDevice = errors.New("unsupported device")
)

// TransferTo moves m to device d. Only CPU placement is available.
func (m *Matrix) TransferTo(d Device) error {
	if d != CPU {
		return fmt.Errorf("%w: %s", ErrUnsupportedDevice, d)
	}
	m.device = d
	return nil
}
