package store

import "errors"

// ErrBadSize reports a backing file whose size does not match the
// configured geometry. Callers should use errors.Is(err, ErrBadSize).
var ErrBadSize = errors.New("store: backing file size mismatch")

// ErrCorruptFrame reports a journal record with bad framing: a wrong
// start or end tag, or a selector stream that runs past the record
// length. Callers should use errors.Is(err, ErrCorruptFrame).
var ErrCorruptFrame = errors.New("store: corrupt journal frame")

// ErrLineRange reports a line number outside [0, LinesPerPage).
// Callers should use errors.Is(err, ErrLineRange).
var ErrLineRange = errors.New("store: line number out of range")

// ErrBlockRange reports a block number outside [0, NumDiskBlocks).
// Callers should use errors.Is(err, ErrBlockRange).
var ErrBlockRange = errors.New("store: block number out of range")

// ErrInodeSlots reports an inode whose direct slots are all occupied.
// Callers should use errors.Is(err, ErrInodeSlots).
var ErrInodeSlots = errors.New("store: no free block slot in inode")
