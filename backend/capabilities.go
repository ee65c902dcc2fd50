package backend

// BackendCapability identifies one optional feature a backend supports.
type BackendCapability string

const (
	// CapabilityObjectStorage marks backends that store object content.
	CapabilityObjectStorage BackendCapability = "object-storage"
	// CapabilitySpecialObjects marks backends that can host special files
	// (named pipes) and hand out native operation tables for them.
	CapabilitySpecialObjects BackendCapability = "special-objects"
)

// BackendCapabilities describes what a backend implementation supports.
type BackendCapabilities struct {
	Capabilities []BackendCapability

	// MaxObjectSize is the largest object the backend accepts, in bytes.
	// Zero means unbounded.
	MaxObjectSize int64
}

// Contains reports whether the capability list includes c.
func (bc *BackendCapabilities) Contains(c BackendCapability) bool {
	for _, have := range bc.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}
