package rondb

import "github.com/KernelMaker/rondb/pkg/logger"

// Defaults applied by PoolConfig.withDefaults. The ready timeouts and the
// drain parameters are the values the native driver and the REST server
// were tuned with.
const (
	DefaultReadyClusterTimeout   = 30  // seconds
	DefaultReadyNodeTimeout      = 30  // seconds
	DefaultShutdownDrainTimeout  = 120 // seconds
	DefaultShutdownDrainInterval = 500 // milliseconds
)

// RonDBConfig represents the configuration values.
type RonDBConfig struct {
	PoolConfig *PoolConfig       `json:"PoolConfig"`
	LogConfig  *logger.LogConfig `json:"LogConfig"`
}

// PoolConfig represents settings for creating/configuring the connection
// and NDB object pool.
type PoolConfig struct {
	ConnectionString     string `json:"ConnectionString"`     // management node address list, e.g. "host:1186"
	NodeID               uint32 `json:"NodeID"`               // cluster-assigned API node id
	ConnectionRetries    uint32 `json:"ConnectionRetries"`    // retries performed by the native connect
	ConnectionRetryDelay uint32 `json:"ConnectionRetryDelay"` // seconds between native connect retries

	ReadyClusterTimeout   int    `json:"ReadyClusterTimeout,omitempty"`   // seconds, if zero defaulted
	ReadyNodeTimeout      int    `json:"ReadyNodeTimeout,omitempty"`      // seconds, if zero defaulted
	ShutdownDrainTimeout  uint32 `json:"ShutdownDrainTimeout,omitempty"`  // seconds, if zero defaulted
	ShutdownDrainInterval uint32 `json:"ShutdownDrainInterval,omitempty"` // milliseconds, if zero defaulted
}

func (cfg *PoolConfig) withDefaults() PoolConfig {
	out := *cfg
	if out.ReadyClusterTimeout == 0 {
		out.ReadyClusterTimeout = DefaultReadyClusterTimeout
	}
	if out.ReadyNodeTimeout == 0 {
		out.ReadyNodeTimeout = DefaultReadyNodeTimeout
	}
	if out.ShutdownDrainTimeout == 0 {
		out.ShutdownDrainTimeout = DefaultShutdownDrainTimeout
	}
	if out.ShutdownDrainInterval == 0 {
		out.ShutdownDrainInterval = DefaultShutdownDrainInterval
	}
	return out
}
