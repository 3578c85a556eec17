package rondb

import "errors"

// Catalog codes of the operational errors the pool can surface. They match
// the error catalog of the REST server this pool fronts.
const (
	CodeConnectFailed       = 2
	CodeClusterNotReady     = 3
	CodeNdbObjectInitFailed = 4
	CodeNotConnected        = 33
	CodeShutdown            = 34
	CodeReconnectInProgress = 36
)

var (
	// ErrConnectFailed is returned when the native driver fails to connect
	// to the cluster's management nodes.
	// Status messages built from it start with its text.
	ErrConnectFailed = errors.New("failed to connect to RonDB cluster")

	// ErrClusterNotReady is returned when the cluster did not become ready
	// within the allotted time.
	ErrClusterNotReady = errors.New("RonDB cluster was not ready within the allotted time")

	// ErrNdbObjectInitFailed is returned when a freshly constructed NDB
	// object fails to initialize.
	ErrNdbObjectInitFailed = errors.New("failed to initialize NDB object")

	// ErrNotConnected is returned by Acquire while the cluster connection is
	// down. Callers should retry later; a reconnection is already underway.
	ErrNotConnected = errors.New("connection to RonDB is not open")

	// ErrShutdown is returned when an operation is attempted after the pool
	// has been shut down for good.
	ErrShutdown = errors.New("NDB connection and object pool is shut down")

	// ErrReconnectInProgress is returned by a reconnection trigger that
	// found another reconnection already underway. Informational.
	ErrReconnectInProgress = errors.New("a reconnection request is already in progress")
)
