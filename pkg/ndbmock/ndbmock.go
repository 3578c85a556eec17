// Package ndbmock is an in-memory stand-in for the native NDB driver. It
// lets tests drive the pool through connect failures, cluster-not-ready
// conditions, handle init failures and link loss without a cluster.
package ndbmock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/KernelMaker/rondb/pkg/ndb"
)

// Driver implements ndb.Driver. The Fail* fields are native-style return
// codes; zero means the corresponding call succeeds. All knobs may be
// flipped while the pool is running.
type Driver struct {
	FailConnect        int32 // returned by ClusterConnection.Connect when non-zero
	FailWaitUntilReady int32 // returned by WaitUntilReady when non-zero
	FailInit           int32 // returned by NdbObject.Init when non-zero
	connectDelayNs     int64

	connectionsCreated int64
	connectionsClosed  int64
	objectsCreated     int64
	objectsClosed      int64
}

// NewDriver creates a Driver whose calls all succeed.
func NewDriver() *Driver {
	return &Driver{}
}

// NewClusterConnection records the connection and returns it; it never fails
// (the native constructor cannot either). Failures are reported by Connect
// and WaitUntilReady, as in the native API.
func (d *Driver) NewClusterConnection(connectionString string, nodeID uint32) (ndb.ClusterConnection, error) {
	atomic.AddInt64(&d.connectionsCreated, 1)
	return &ClusterConnection{
		driver:           d,
		ConnectionString: connectionString,
		NodeID:           nodeID,
	}, nil
}

// NewNdbObject returns a handle bound to c.
func (d *Driver) NewNdbObject(c ndb.ClusterConnection) ndb.NdbObject {
	atomic.AddInt64(&d.objectsCreated, 1)
	return &NdbObject{driver: d, conn: c.(*ClusterConnection)}
}

// SetFailConnect arms or disarms connect failures.
func (d *Driver) SetFailConnect(code int) { atomic.StoreInt32(&d.FailConnect, int32(code)) }

// SetFailWaitUntilReady arms or disarms wait-until-ready failures.
func (d *Driver) SetFailWaitUntilReady(code int) {
	atomic.StoreInt32(&d.FailWaitUntilReady, int32(code))
}

// SetFailInit arms or disarms handle init failures.
func (d *Driver) SetFailInit(code int) { atomic.StoreInt32(&d.FailInit, int32(code)) }

// SetConnectDelay makes subsequent Connect calls sleep for delay first.
func (d *Driver) SetConnectDelay(delay time.Duration) {
	atomic.StoreInt64(&d.connectDelayNs, int64(delay))
}

// ConnectionsCreated reports how many cluster connections were constructed.
func (d *Driver) ConnectionsCreated() int64 { return atomic.LoadInt64(&d.connectionsCreated) }

// ConnectionsClosed reports how many cluster connections were closed.
func (d *Driver) ConnectionsClosed() int64 { return atomic.LoadInt64(&d.connectionsClosed) }

// ObjectsCreated reports how many handles were constructed.
func (d *Driver) ObjectsCreated() int64 { return atomic.LoadInt64(&d.objectsCreated) }

// ObjectsClosed reports how many handles were closed.
func (d *Driver) ObjectsClosed() int64 { return atomic.LoadInt64(&d.objectsClosed) }

// LiveObjects reports handles constructed and not yet closed.
func (d *Driver) LiveObjects() int64 { return d.ObjectsCreated() - d.ObjectsClosed() }

// ClusterConnection is the mock cluster link.
type ClusterConnection struct {
	driver           *Driver
	ConnectionString string
	NodeID           uint32

	mu        sync.Mutex
	connected bool
	closed    bool
	lastErr   int
	lastMsg   string
}

// Connect honors the driver's FailConnect knob and ConnectDelay.
func (c *ClusterConnection) Connect(retries int, retryDelaySec int, verbose int) int {
	if delay := atomic.LoadInt64(&c.driver.connectDelayNs); delay > 0 {
		time.Sleep(time.Duration(delay))
	}

	if code := atomic.LoadInt32(&c.driver.FailConnect); code != 0 {
		c.setError(int(code), "mock: connect refused")
		return int(code)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return 0
}

// WaitUntilReady honors the driver's FailWaitUntilReady knob.
func (c *ClusterConnection) WaitUntilReady(clusterTimeoutSec int, nodeTimeoutSec int) int {
	if code := atomic.LoadInt32(&c.driver.FailWaitUntilReady); code != 0 {
		c.setError(int(code), "mock: cluster not ready")
		return int(code)
	}
	return 0
}

// LatestError returns the native code of the last failure.
func (c *ClusterConnection) LatestError() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// LatestErrorMsg returns the message of the last failure.
func (c *ClusterConnection) LatestErrorMsg() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastMsg
}

// Close marks the connection closed. Closing twice is harmless.
func (c *ClusterConnection) Close() error {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	if !alreadyClosed {
		atomic.AddInt64(&c.driver.connectionsClosed, 1)
	}
	return nil
}

// IsClosed reports whether Close was called.
func (c *ClusterConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *ClusterConnection) setError(code int, msg string) {
	c.mu.Lock()
	c.lastErr = code
	c.lastMsg = msg
	c.mu.Unlock()
}

// NdbObject is the mock per-request handle.
type NdbObject struct {
	driver *Driver
	conn   *ClusterConnection

	mu          sync.Mutex
	initialized bool
	closed      bool
}

// Init honors the driver's FailInit knob.
func (o *NdbObject) Init() int {
	if code := atomic.LoadInt32(&o.driver.FailInit); code != 0 {
		return int(code)
	}

	o.mu.Lock()
	o.initialized = true
	o.mu.Unlock()
	return 0
}

// Close destroys the handle. Closing twice is harmless.
func (o *NdbObject) Close() error {
	o.mu.Lock()
	alreadyClosed := o.closed
	o.closed = true
	o.mu.Unlock()

	if !alreadyClosed {
		atomic.AddInt64(&o.driver.objectsClosed, 1)
	}
	return nil
}

// IsClosed reports whether Close was called.
func (o *NdbObject) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Connection returns the cluster connection the handle is bound to.
func (o *NdbObject) Connection() *ClusterConnection { return o.conn }
