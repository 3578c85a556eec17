package rondb

import (
	"errors"
	"fmt"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"

	"github.com/KernelMaker/rondb/pkg/logger"
	"github.com/KernelMaker/rondb/pkg/ndb"
)

// RonDBConnectionPool owns a single long-lived cluster connection and hands
// out short-lived NDB object handles bound to it. The pool is elastic:
// handles are created lazily and there is no upper bound. When the upper
// layer reports an UnknownResultError on release, the pool tears the
// connection down in the background and rebuilds it.
type RonDBConnectionPool struct {
	connectionString     string
	nodeID               uint32
	connectionRetries    uint32
	connectionRetryDelay uint32
	readyClusterTimeout  int
	readyNodeTimeout     int
	drainTimeout         time.Duration
	drainInterval        time.Duration

	driver ndb.Driver

	// connLock guards ndbConnection, allNdbObjects, connectionID, objectID,
	// reconnectDone and the membership of availableNdbObjects. infoLock
	// guards stats. Lock order is always connLock before infoLock.
	connLock deadlock.Mutex
	infoLock deadlock.Mutex

	ndbConnection ndb.ClusterConnection

	// availableNdbObjects is FIFO: hot handles are reused first. The queue
	// is internally synchronized, so its size can be read without connLock.
	availableNdbObjects *queue.Queue
	allNdbObjects       []*NdbObjectHost

	// connectionID is the connection epoch. It increments on every full
	// teardown; a host from an older epoch is an orphan.
	connectionID uint64
	objectID     uint64

	reconnectDone chan struct{}

	stats RonDBStats

	log zerolog.Logger
}

// NewRonDBConnectionPool creates the pool in the DISCONNECTED state. Call
// Connect to open the cluster connection.
func NewRonDBConnectionPool(driver ndb.Driver, config *PoolConfig) (*RonDBConnectionPool, error) {
	if driver == nil {
		return nil, errors.New("connectionpool driver can't be nil")
	}
	if config == nil || config.ConnectionString == "" {
		return nil, errors.New("connectionpool connection string can't be empty")
	}

	cfg := config.withDefaults()

	return &RonDBConnectionPool{
		connectionString:     cfg.ConnectionString,
		nodeID:               cfg.NodeID,
		connectionRetries:    cfg.ConnectionRetries,
		connectionRetryDelay: cfg.ConnectionRetryDelay,
		readyClusterTimeout:  cfg.ReadyClusterTimeout,
		readyNodeTimeout:     cfg.ReadyNodeTimeout,
		drainTimeout:         time.Duration(cfg.ShutdownDrainTimeout) * time.Second,
		drainInterval:        time.Duration(cfg.ShutdownDrainInterval) * time.Millisecond,
		driver:               driver,
		availableNdbObjects:  queue.New(64),
		connectionID:         1,
		stats:                RonDBStats{ConnectionState: DISCONNECTED},
		log:                  logger.GetLogger("connpool"),
	}, nil
}

// Connect builds the cluster connection, dials it with the configured
// retries and waits until the cluster is ready. Calling Connect on a pool
// that is already CONNECTED is a programming error and panics.
func (p *RonDBConnectionPool) Connect() Status {

	p.log.Info().Str("connection_string", p.connectionString).Msg("connecting to RonDB")

	p.infoLock.Lock()
	if p.stats.IsShutdown || p.stats.IsShuttingDown {
		p.infoLock.Unlock()
		return errorStatus(CodeShutdown, ErrShutdown)
	}
	if p.stats.ConnectionState == CONNECTED {
		p.infoLock.Unlock()
		panic("connectionpool: Connect called while already connected")
	}
	p.infoLock.Unlock()

	p.connLock.Lock()
	if p.ndbConnection != nil {
		p.connLock.Unlock()
		panic("connectionpool: Connect called with a live cluster connection")
	}

	conn, err := p.driver.NewClusterConnection(p.connectionString, p.nodeID)
	if err != nil {
		p.connLock.Unlock()
		return ServerErrorStatus(CodeConnectFailed, fmt.Sprintf("%s: %s", ErrConnectFailed, err))
	}

	if retCode := conn.Connect(int(p.connectionRetries), int(p.connectionRetryDelay), 0); retCode != 0 {
		_ = conn.Close()
		p.connLock.Unlock()
		return ServerErrorStatus(CodeConnectFailed,
			fmt.Sprintf("%s retCode: %d", ErrConnectFailed, retCode))
	}

	if retCode := conn.WaitUntilReady(p.readyClusterTimeout, p.readyNodeTimeout); retCode != 0 {
		status := ServerErrorStatus(CodeClusterNotReady,
			fmt.Sprintf("%s retCode: %d latest error: %d latest error msg: %s",
				ErrClusterNotReady, retCode, conn.LatestError(), conn.LatestErrorMsg()))
		_ = conn.Close()
		p.connLock.Unlock()
		return status
	}

	p.ndbConnection = conn
	p.connLock.Unlock()

	p.infoLock.Lock()
	p.stats.ConnectionState = CONNECTED
	p.infoLock.Unlock()

	p.log.Info().Msg("RonDB connection and NDB object pool initialized")
	return OkStatus()
}

// GetNdbObject returns a handle bound to the current cluster connection.
// The handle is exclusively owned by the caller until it is returned with
// ReturnNdbObjectToPool. GetNdbObject never blocks on reconnection: while
// the link is down it fails fast and arms a background reconnect.
func (p *RonDBConnectionPool) GetNdbObject() (*NdbObjectHost, Status) {

	p.infoLock.Lock()
	isShutdown := p.stats.IsShutdown || p.stats.IsShuttingDown
	reconnectionInProgress := p.stats.IsReconnectionInProgress
	connectionState := p.stats.ConnectionState
	p.infoLock.Unlock()

	if isShutdown {
		p.log.Error().Msg(ErrShutdown.Error())
		return nil, errorStatus(CodeShutdown, ErrShutdown)
	}

	if connectionState != CONNECTED {
		if !reconnectionInProgress {
			// Previous reconnection attempts may have failed; re-arm.
			p.log.Debug().Msg("GetNdbObject triggered reconnection")
			p.Reconnect()
		}
		p.log.Warn().
			Stringer("connection_state", connectionState).
			Bool("reconnection_in_progress", reconnectionInProgress).
			Msg(ErrNotConnected.Error())
		return nil, errorStatus(CodeNotConnected, ErrNotConnected)
	}

	p.connLock.Lock()

	if p.availableNdbObjects.Len() > 0 {
		items, err := p.availableNdbObjects.Get(1)
		if err == nil {
			host := items[0].(*NdbObjectHost)
			p.connLock.Unlock()
			return host, OkStatus()
		}
	}

	if p.ndbConnection == nil {
		// A teardown slipped in between the state snapshot and here.
		p.connLock.Unlock()
		return nil, errorStatus(CodeNotConnected, ErrNotConnected)
	}

	obj := p.driver.NewNdbObject(p.ndbConnection)
	if retCode := obj.Init(); retCode != 0 {
		p.connLock.Unlock()
		_ = obj.Close()
		return nil, ServerErrorStatus(CodeNdbObjectInitFailed,
			fmt.Sprintf("%s retCode: %d", ErrNdbObjectInitFailed, retCode))
	}

	host := &NdbObjectHost{
		NdbObject:    obj,
		ID:           p.objectID,
		ConnectionID: p.connectionID,
	}
	p.objectID++
	p.allNdbObjects = append(p.allNdbObjects, host)

	p.infoLock.Lock()
	p.stats.NdbObjectsCreated++
	p.stats.NdbObjectsCount++
	p.infoLock.Unlock()

	p.connLock.Unlock()
	return host, OkStatus()
}

// ReturnNdbObjectToPool returns a handle. It never fails. If the caller
// reports an outcome whose classification is UnknownResultError, the
// cluster link is considered lost and a background reconnection is
// triggered after the handle has been pooled.
func (p *RonDBConnectionPool) ReturnNdbObjectToPool(host *NdbObjectHost, status *Status) {
	if host == nil {
		return
	}

	stale := false
	p.connLock.Lock()
	if host.ConnectionID != p.connectionID {
		stale = true
	} else {
		_ = p.availableNdbObjects.Put(host)
	}
	p.connLock.Unlock()

	if stale {
		// The connection this handle belonged to was torn down after the
		// drain gave up waiting for it. Nothing tracks it anymore.
		p.log.Warn().Uint64("object_id", host.ID).Msg("closing NDB object returned after teardown")
		host.Close()
		return
	}

	if status != nil && status.HTTPCode != SUCCESS {
		// UnknownResultError is the classification for loss of
		// connectivity to the cluster.
		if status.Classification == ndb.UnknownResultError {
			p.log.Error().Msg("detected connection loss, triggering reconnection")
			p.Reconnect()
		}
	}
}

// GetStats refreshes the available-handle gauge and returns a copy of the
// stats record. The gauge is best-effort: the queue size is sampled without
// the connection lock.
func (p *RonDBConnectionPool) GetStats() RonDBStats {
	available := int64(p.availableNdbObjects.Len())

	p.infoLock.Lock()
	p.stats.NdbObjectsAvailable = available
	stats := p.stats
	p.infoLock.Unlock()

	return stats
}

// Reconnect arms the background reconnection worker. It is idempotent: a
// trigger that finds a reconnection already underway reports that and
// touches nothing. Public only for testing; GetNdbObject and
// ReturnNdbObjectToPool drive it internally.
func (p *RonDBConnectionPool) Reconnect() Status {

	// A trigger arriving while a cycle is underway returns at once instead of
	// waiting for connLock, which the worker holds while it dials.
	p.infoLock.Lock()
	inProgress := p.stats.IsReconnectionInProgress
	p.infoLock.Unlock()
	if inProgress {
		p.log.Info().Msg("ignoring RonDB reconnection request, a reconnection is already in progress")
		return errorStatus(CodeReconnectInProgress, ErrReconnectInProgress)
	}

	p.connLock.Lock()
	p.infoLock.Lock()

	if p.stats.IsReconnectionInProgress {
		p.infoLock.Unlock()
		p.connLock.Unlock()
		p.log.Info().Msg("ignoring RonDB reconnection request, a reconnection is already in progress")
		return errorStatus(CodeReconnectInProgress, ErrReconnectInProgress)
	}

	p.stats.IsReconnectionInProgress = true

	// Replace the descriptor left behind by a previous cycle.
	done := make(chan struct{})
	p.reconnectDone = done
	cycleID := uuid.New().String()
	go p.reconnectHandler(cycleID, done)

	p.infoLock.Unlock()
	p.connLock.Unlock()
	return OkStatus()
}

// reconnectHandler is the body of the background reconnection worker: a
// non-terminal shutdown followed by a fresh connect. The reconnection flag
// is cleared on every exit path.
func (p *RonDBConnectionPool) reconnectHandler(cycleID string, done chan struct{}) {
	defer close(done)

	p.infoLock.Lock()
	if !p.stats.IsReconnectionInProgress {
		p.infoLock.Unlock()
		panic("connectionpool: reconnect handler running without the reconnection flag")
	}
	p.infoLock.Unlock()

	p.log.Info().Str("cycle_id", cycleID).Msg("reconnection worker started")

	if status := p.Shutdown(false); !status.OK() {
		p.clearReconnectionFlag()
		p.log.Error().Str("cycle_id", cycleID).Stringer("status", status).
			Msg("reconnection: shutdown failed")
		return
	}

	if status := p.Connect(); !status.OK() {
		p.clearReconnectionFlag()
		p.log.Error().Str("cycle_id", cycleID).Stringer("status", status).
			Msg("reconnection: connect failed")
		return
	}

	p.clearReconnectionFlag()
	p.log.Info().Str("cycle_id", cycleID).Msg("reconnection complete")
}

func (p *RonDBConnectionPool) clearReconnectionFlag() {
	p.infoLock.Lock()
	p.stats.IsReconnectionInProgress = false
	p.infoLock.Unlock()
}

// Shutdown waits for all outstanding handles to return, then destroys every
// pooled handle and the cluster connection. With end=false this is the
// teardown half of a reconnect cycle and the pool stays usable for a
// follow-up Connect; with end=true the pool is shut down for good.
//
// The drain is bounded. On timeout the teardown proceeds anyway: handles
// still out on loan are orphaned, never destroyed in place, and are closed
// if they are ever returned.
func (p *RonDBConnectionPool) Shutdown(end bool) Status {

	p.infoLock.Lock()
	if p.stats.IsShutdown {
		p.infoLock.Unlock()
		return errorStatus(CodeShutdown, ErrShutdown)
	}
	if end {
		// Makes GetNdbObject reject new requests immediately.
		p.stats.IsShuttingDown = true
	}
	p.infoLock.Unlock()

	startTime := time.Now()
	allNdbObjectsAccountedFor := false
	var expected int64
	for {
		p.connLock.Lock()
		have := int64(p.availableNdbObjects.Len())
		p.infoLock.Lock()
		expected = p.stats.NdbObjectsCreated
		p.infoLock.Unlock()
		p.connLock.Unlock()

		if have == expected {
			allNdbObjectsAccountedFor = true
			break
		}
		if time.Since(startTime) >= p.drainTimeout {
			break
		}
		p.log.Warn().Int64("expected", expected).Int64("have", have).
			Msg("waiting for all NDB objects to return before shutdown")
		time.Sleep(p.drainInterval)
	}

	if !allNdbObjectsAccountedFor {
		p.log.Error().Msg("timed out waiting for all NDB objects to return")
	} else {
		p.log.Info().Int64("total_objects", expected).Msg("all NDB objects are accounted for")
	}

	p.log.Info().Msg("shutting down RonDB connection and NDB object pool")

	p.infoLock.Lock()
	p.stats.ConnectionState = DISCONNECTED
	p.infoLock.Unlock()

	p.connLock.Lock()
	p.infoLock.Lock()
	var closed int64
	for p.availableNdbObjects.Len() > 0 {
		items, err := p.availableNdbObjects.Get(1)
		if err != nil {
			break
		}
		items[0].(*NdbObjectHost).Close()
		p.stats.NdbObjectsDeleted++
		closed++
	}
	if orphans := int64(len(p.allNdbObjects)) - closed; orphans > 0 {
		// Handles still out on loan are never destroyed in place. They are
		// closed if their owners ever return them.
		p.log.Warn().Int64("orphaned_objects", orphans).Msg("NDB objects still on loan were abandoned")
	}
	p.allNdbObjects = nil
	p.connectionID++
	p.stats.NdbObjectsAvailable = 0
	p.stats.NdbObjectsCount = 0
	p.stats.NdbObjectsCreated = 0
	p.stats.NdbObjectsDeleted = 0
	p.infoLock.Unlock()
	p.connLock.Unlock()

	p.connLock.Lock()
	if p.ndbConnection != nil {
		if err := p.ndbConnection.Close(); err != nil {
			p.log.Warn().Err(err).Msg("error closing RonDB cluster connection")
		}
		p.ndbConnection = nil
	}
	p.connLock.Unlock()

	if end {
		p.connLock.Lock()
		p.infoLock.Lock()
		p.stats.IsShutdown = true
		p.stats.IsShuttingDown = false
		p.reconnectDone = nil
		p.infoLock.Unlock()
		p.connLock.Unlock()
	}

	p.log.Info().Msg("RonDB connection and NDB object pool shutdown")
	return OkStatus()
}
