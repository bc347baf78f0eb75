package rendezvous

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coupledsim/fmigate/pkg/shm"
)

// Default retry policy for the slave's attach loop. The worker may start
// before the master has constructed the segment; attach retries with a
// bounded sleep until the segment and both semaphores appear.
const (
	DefaultRetryInterval = 500 * time.Millisecond
	DefaultMaxAttempts   = 120
)

// Master is the creating side of the rendezvous channel. It owns the
// segment and removes it on Close.
type Master struct {
	*shm.Segment
	lg zerolog.Logger
}

// NewMaster creates the shared segment and both semaphores. The master
// holds the first turn: its initial WaitForSlave returns immediately.
func NewMaster(segmentID string, size int64, lg zerolog.Logger) (*Master, error) {
	seg, err := shm.Create(segmentID, size, lg)
	if err != nil {
		return nil, err
	}
	return &Master{Segment: seg, lg: lg}, nil
}

// WaitForSlave blocks until the slave signals. Do not alter shared data
// between SignalToSlave and the return of this call.
func (m *Master) WaitForSlave() error { return m.MasterWaitForSlave() }

// SignalToSlave hands the turn to the slave.
func (m *Master) SignalToSlave() error { return m.MasterSignalToSlave() }

// Close releases the channel and removes the segment.
func (m *Master) Close() error {
	err := m.Segment.Close()
	m.Segment.Remove()
	return err
}

// Slave is the attaching side of the rendezvous channel, loaded inside
// the worker process.
type Slave struct {
	*shm.Segment
	lg zerolog.Logger
}

// SlaveConfig bounds the attach retry loop.
type SlaveConfig struct {
	RetryInterval time.Duration
	MaxAttempts   int
}

func (c *SlaveConfig) defaults() {
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
}

// NewSlave attaches to an existing segment, retrying with a bounded
// sleep while the master is still constructing it.
func NewSlave(segmentID string, cfg SlaveConfig, lg zerolog.Logger) (*Slave, error) {
	cfg.defaults()

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		seg, err := shm.Open(segmentID, lg)
		if err == nil && seg.Operational() {
			return &Slave{Segment: seg, lg: lg}, nil
		}
		if seg != nil {
			seg.Close()
		}
		lastErr = err
		lg.Warn().Str("category", "WARNING").Str("segment", segmentID).
			Int("attempt", attempt+1).Msg("IPC interface not operational, retrying")
		time.Sleep(cfg.RetryInterval)
	}
	return nil, fmt.Errorf("rendezvous: segment %q did not appear after %d attempts: %w",
		segmentID, cfg.MaxAttempts, lastErr)
}

// WaitForMaster blocks until the master signals. Do not alter shared
// data between SignalToMaster and the return of this call.
func (s *Slave) WaitForMaster() error { return s.SlaveWaitForMaster() }

// SignalToMaster hands the turn back to the master.
func (s *Slave) SignalToMaster() error { return s.SlaveSignalToMaster() }

// Close detaches from the segment without removing it; removal belongs
// to the master.
func (s *Slave) Close() error { return s.Segment.Close() }
