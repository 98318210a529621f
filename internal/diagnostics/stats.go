package diagnostics

import (
	"sync"
	"time"

	"resourcewatch/internal/types"
)

type WorkerStats struct {
	Processed   int       `json:"processed"`
	Failed      int       `json:"failed"`
	Permanent   int       `json:"permanent_failures"`
	Banned      int       `json:"banned"`
	Unchanged   int       `json:"unchanged"`
	Dangling    int       `json:"dangling"`
	LastCycleID string    `json:"last_cycle_id"`
	LastEventAt time.Time `json:"last_event_at"`
}

// StatsListener aggregates counters per worker for the status endpoint.
type StatsListener struct {
	mu      sync.RWMutex
	workers map[string]*WorkerStats
}

func NewStatsListener() *StatsListener {
	return &StatsListener{workers: make(map[string]*WorkerStats)}
}

func (s *StatsListener) OnEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, ok := s.workers[ev.Worker]
	if !ok {
		ws = &WorkerStats{}
		s.workers[ev.Worker] = ws
	}

	switch {
	case ev.Dangling:
		ws.Dangling++
	case ev.ResultType == types.ResultError:
		ws.Failed++
		if !ev.Retryable {
			ws.Permanent++
		}
	case ev.ProcessType == types.ProcessBanned:
		ws.Banned++
	case ev.ProcessType == types.ProcessNothingToDo:
		ws.Unchanged++
	default:
		ws.Processed++
	}
	ws.LastCycleID = ev.CycleID
	ws.LastEventAt = ev.At
}

func (s *StatsListener) Snapshot() map[string]WorkerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]WorkerStats, len(s.workers))
	for name, ws := range s.workers {
		out[name] = *ws
	}
	return out
}
