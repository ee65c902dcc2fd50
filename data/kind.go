package data

// SpecialKind classifies special files by the handling they receive in the
// union layer. Only named pipes are handled today; character/block devices
// and sockets exist virtually but have no I/O path.
type SpecialKind int

const (
	// KindFifo identifies a named pipe (FIFO).
	KindFifo SpecialKind = iota

	// KindUnsupported identifies every other special type. Reaching the
	// I/O path with this kind is a contract violation.
	KindUnsupported

	// KindCount is the number of dispatchable special kinds.
	KindCount = int(KindUnsupported)
)

// ClassifyMode reports the special kind for a file mode.
func ClassifyMode(mode FileMode) SpecialKind {
	switch {
	case mode.IsNamedPipe():
		return KindFifo
	default:
		return KindUnsupported
	}
}

// String returns the kind name for logging.
func (k SpecialKind) String() string {
	switch k {
	case KindFifo:
		return "fifo"
	default:
		return "unsupported"
	}
}
