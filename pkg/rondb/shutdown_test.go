package rondb_test

import (
	"testing"
	"time"

	"github.com/KernelMaker/rondb/pkg/ndbmock"
	"github.com/KernelMaker/rondb/pkg/rondb"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownDrainsOutstandingObjects(t *testing.T) {
	defer leaktest.Check(t)() // Fail on leaked goroutines.

	pool, driver := newTestPool(t)
	require.True(t, pool.Connect().OK())

	hosts := make([]*rondb.NdbObjectHost, 0, 4)
	for i := 0; i < 4; i++ {
		host, status := pool.GetNdbObject()
		require.True(t, status.OK())
		hosts = append(hosts, host)
	}

	shutdownReturned := make(chan rondb.Status, 1)
	go func() {
		shutdownReturned <- pool.Shutdown(true)
	}()

	// Let the drain observe the missing handles, then return them all.
	time.Sleep(100 * time.Millisecond)
	for _, host := range hosts {
		pool.ReturnNdbObjectToPool(host, nil)
	}

	select {
	case status := <-shutdownReturned:
		assert.True(t, status.OK())
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not finish after all handles were returned")
	}

	stats := pool.GetStats()
	assert.True(t, stats.IsShutdown)
	assert.Zero(t, stats.NdbObjectsCreated)
	assert.Zero(t, stats.NdbObjectsCount)
	assert.Zero(t, driver.LiveObjects())
}

func TestShutdownRejectsAcquiresWhileDraining(t *testing.T) {
	defer leaktest.Check(t)() // Fail on leaked goroutines.

	pool, _ := newTestPool(t)
	require.True(t, pool.Connect().OK())

	host, status := pool.GetNdbObject()
	require.True(t, status.OK())

	shutdownReturned := make(chan rondb.Status, 1)
	go func() {
		shutdownReturned <- pool.Shutdown(true)
	}()

	ok := waitFor(t, time.Second, func() bool {
		return pool.GetStats().IsShuttingDown
	})
	require.True(t, ok)

	rejected, rejStatus := pool.GetNdbObject()
	assert.Nil(t, rejected)
	assert.Equal(t, rondb.CodeShutdown, rejStatus.Code)

	pool.ReturnNdbObjectToPool(host, nil)
	assert.True(t, (<-shutdownReturned).OK())
}

func TestShutdownDrainTimeoutOrphansObject(t *testing.T) {
	defer leaktest.Check(t)() // Fail on leaked goroutines.

	driver := ndbmock.NewDriver()
	cfg := testPoolConfig()
	cfg.ShutdownDrainTimeout = 1   // second
	cfg.ShutdownDrainInterval = 50 // milliseconds

	pool, err := rondb.NewRonDBConnectionPool(driver, cfg)
	require.NoError(t, err)
	require.True(t, pool.Connect().OK())

	host, status := pool.GetNdbObject()
	require.True(t, status.OK())

	start := time.Now()
	status = pool.Shutdown(true)
	elapsed := time.Since(start)

	// The drain gives up after the configured cap and tears down anyway.
	assert.True(t, status.OK())
	assert.GreaterOrEqual(t, elapsed, time.Second)

	stats := pool.GetStats()
	assert.True(t, stats.IsShutdown)
	assert.Zero(t, stats.NdbObjectsCreated)

	// The handle on loan was never destroyed in place.
	assert.EqualValues(t, 1, driver.LiveObjects())

	// Returning the orphan closes it instead of pooling it.
	pool.ReturnNdbObjectToPool(host, nil)
	assert.Zero(t, driver.LiveObjects())
	assert.Zero(t, pool.GetStats().NdbObjectsAvailable)
}

func TestShutdownTwiceIsRejected(t *testing.T) {
	pool, _ := newTestPool(t)
	require.True(t, pool.Connect().OK())

	require.True(t, pool.Shutdown(true).OK())

	status := pool.Shutdown(true)
	assert.False(t, status.OK())
	assert.Equal(t, rondb.CodeShutdown, status.Code)
}

func TestConnectAfterTerminalShutdownIsRejected(t *testing.T) {
	pool, _ := newTestPool(t)
	require.True(t, pool.Connect().OK())
	require.True(t, pool.Shutdown(true).OK())

	status := pool.Connect()
	assert.False(t, status.OK())
	assert.Equal(t, rondb.CodeShutdown, status.Code)
}

func TestDefaultDrainParameters(t *testing.T) {
	assert.Equal(t, 120, rondb.DefaultShutdownDrainTimeout)
	assert.Equal(t, 500, rondb.DefaultShutdownDrainInterval)
	assert.Equal(t, 30, rondb.DefaultReadyClusterTimeout)
	assert.Equal(t, 30, rondb.DefaultReadyNodeTimeout)
}
