// Package serialization implements the .cnm model file used to persist
// computation networks.
//
//	Format Structure:
//	  [0x00-0x03: Magic "CNGM"]
//	  [0x04-0x07: Format version (uint32 LE)]
//	  [0x08-0x0B: Flags (uint32 LE)]
//	  [0x0C-0x0F: Reserved]
//	  [0x10-0x17: Header size (uint64 LE)]
//	  [0x18-0x1F: Data size (uint64 LE)]
//	  [0x20-0x3F: SHA-256 of the data section]
//	  [Header: JSON node records, roles and tensor table]
//	  [Tensor data: float64 LE, column-major, 64-byte aligned]
//
// The header carries a model version separate from the format version. Node
// attribute readers receive it so fields added in later versions can be
// skipped when loading older files.
package serialization
