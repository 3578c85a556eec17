package rondb

import "github.com/KernelMaker/rondb/pkg/ndb"

// NdbObjectHost is the pool's representation of a checked-out NDB object.
// Between acquire and release the host is exclusively owned by the caller;
// concurrency on a single handle is the caller's responsibility.
type NdbObjectHost struct {
	NdbObject ndb.NdbObject

	// ID is unique per handle for the lifetime of the pool.
	ID uint64

	// ConnectionID is the connection epoch the handle was created under.
	// A host whose epoch has been torn down can no longer be pooled.
	ConnectionID uint64
}

// Close destroys the underlying NDB object.
func (h *NdbObjectHost) Close() {
	_ = h.NdbObject.Close()
}
