package btrtree

import "errors"

// Error kinds surfaced to callers (§7). Class-callback errors are passed
// through unchanged by the engine; these sentinels are what the engine
// itself raises.
var (
	ErrInvalidArgument = errors.New("btrtree: invalid argument")
	ErrOutOfMemory     = errors.New("btrtree: out of memory")
	ErrNotFound        = errors.New("btrtree: not found")
	ErrExists          = errors.New("btrtree: exists")
	ErrNoPermission    = errors.New("btrtree: no permission")
	ErrIOInvalid       = errors.New("btrtree: io invalid")
	ErrOverflow        = errors.New("btrtree: overflow")
	ErrNoHandle        = errors.New("btrtree: no handle")
)
