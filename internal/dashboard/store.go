package dashboard

import (
	"sort"
	"sync"
	"time"
)

const (
	maxBuilds    = 100
	maxTotalLogs = 10000
)

// Store provides thread-safe in-memory storage for build history and logs.
type Store struct {
	mu     sync.RWMutex
	builds map[string]*BuildRun
	logs   []LogEntry
}

// NewStore creates a new Store instance.
func NewStore() *Store {
	return &Store{
		builds: make(map[string]*BuildRun),
		logs:   make([]LogEntry, 0, 64),
	}
}

// AddBuild records a build, evicting the oldest finished builds past the cap.
func (s *Store) AddBuild(run *BuildRun) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.builds[run.ID] = run
	s.evictOldBuilds()
}

// GetBuild retrieves a build by ID.
func (s *Store) GetBuild(id string) (*BuildRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.builds[id]
	return run, ok
}

// ListBuilds returns builds sorted by StartedAt descending, optionally
// restricted to one repository.
func (s *Store) ListBuilds(repoID string) []*BuildRun {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*BuildRun, 0, len(s.builds))
	for _, run := range s.builds {
		if repoID == "" || run.RepoID == repoID {
			runs = append(runs, run)
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs
}

// UpdateBuild performs a thread-safe update on a build.
func (s *Store) UpdateBuild(id string, fn func(*BuildRun)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run, ok := s.builds[id]; ok {
		fn(run)
	}
}

// GetStats computes aggregate statistics. Views are counted by the caller.
func (s *Store) GetStats() *DashboardStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &DashboardStats{TotalBuilds: len(s.builds)}
	repos := make(map[string]bool)
	var totalDuration time.Duration

	for _, run := range s.builds {
		repos[run.RepoID] = true
		switch run.Status {
		case StatusCompleted:
			stats.CompletedBuilds++
			totalDuration += run.Duration
		case StatusFailed:
			stats.FailedBuilds++
		}
	}
	stats.Repos = len(repos)
	for _, l := range s.logs {
		if l.Metric != "" {
			stats.MetricFailures++
		}
	}

	if stats.CompletedBuilds > 0 {
		stats.AvgDuration = totalDuration.Seconds() / float64(stats.CompletedBuilds)
	}
	if stats.TotalBuilds > 0 {
		stats.SuccessRate = float64(stats.CompletedBuilds) / float64(stats.TotalBuilds)
	}
	return stats
}

// AddLog adds a log entry to the store.
func (s *Store) AddLog(entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs = append(s.logs, entry)
	if len(s.logs) > maxTotalLogs {
		s.logs = s.logs[len(s.logs)-maxTotalLogs:]
	}
}

// GetLogs retrieves logs for a repository (all repositories when repoID is
// empty), most recent first.
func (s *Store) GetLogs(repoID string, limit int) []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []LogEntry
	for i := len(s.logs) - 1; i >= 0; i-- {
		if repoID != "" && s.logs[i].RepoID != repoID {
			continue
		}
		filtered = append(filtered, s.logs[i])
		if limit > 0 && len(filtered) >= limit {
			break
		}
	}
	return filtered
}

// evictOldBuilds removes the oldest finished builds past maxBuilds.
// Must be called with lock held.
func (s *Store) evictOldBuilds() {
	if len(s.builds) <= maxBuilds {
		return
	}

	type buildTime struct {
		id   string
		time time.Time
	}
	var finished []buildTime
	for id, run := range s.builds {
		if run.Status == StatusRunning {
			continue
		}
		t := run.StartedAt
		if run.CompletedAt != nil {
			t = *run.CompletedAt
		}
		finished = append(finished, buildTime{id: id, time: t})
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].time.Before(finished[j].time)
	})

	toDelete := len(s.builds) - maxBuilds
	for i := 0; i < toDelete && i < len(finished); i++ {
		delete(s.builds, finished[i].id)
	}
}
