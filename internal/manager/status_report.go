package manager

import (
	"time"

	"embedd/pkg/types"
)

// Status builds the response for /status.
func (m *Manager) Status() types.StatusResponse {
	st := m.queue.Stats()
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	return types.StatusResponse{
		State: string(m.state),
		Queue: types.QueueStatus{
			Pending:      st.Pending,
			Busy:         st.Busy,
			Batches:      st.Batches,
			Entries:      st.Entries,
			Rejected:     st.Rejected,
			MaxQueueSize: m.cfg.Queue.MaxQueueSize,
		},
		LastError:      m.lastErr,
		UptimeSeconds:  int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix: now.Unix(),
		RequestsOK:     m.okTotal.Load(),
		RequestsFailed: m.errTotal.Load(),
	}
}
