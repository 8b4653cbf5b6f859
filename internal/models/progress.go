package models

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ComponentGroup groups progress updates by discovery phase.
type ComponentGroup string

const (
	GroupClassification ComponentGroup = "classification"
	GroupProxyDetection ComponentGroup = "proxy_detection"
	GroupSourceFetch    ComponentGroup = "source_fetch"
	GroupTemplateMatch  ComponentGroup = "template_match"
	GroupHandlers       ComponentGroup = "handlers"
	GroupBFS            ComponentGroup = "bfs"
)

// ComponentStatus is the lifecycle of one tracked component.
type ComponentStatus string

const (
	StatusInitiated ComponentStatus = "initiated"
	StatusRunning   ComponentStatus = "running"
	StatusFinished  ComponentStatus = "finished"
	StatusError     ComponentStatus = "error"
)

// ComponentUpdate is a single progress observation.
type ComponentUpdate struct {
	ID          string
	Group       ComponentGroup
	Title       string
	Status      ComponentStatus
	Description string
	Timestamp   time.Time
	StartTime   time.Time
	DurationMs  int64
}

// ProgressTracker records component lifecycle transitions and logs them
// through zerolog. There is no streaming consumer; progress is structured
// logs, not a push channel.
type ProgressTracker struct {
	mu         sync.Mutex
	log        zerolog.Logger
	components map[string]*ComponentUpdate
}

func NewProgressTracker(log zerolog.Logger) *ProgressTracker {
	return &ProgressTracker{
		log:        log.With().Str("subsystem", "progress").Logger(),
		components: make(map[string]*ComponentUpdate),
	}
}

// Update records a status transition for a component and logs it.
func (pt *ProgressTracker) Update(id string, group ComponentGroup, title string, status ComponentStatus, description string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	now := time.Now()
	c, exists := pt.components[id]
	if !exists {
		c = &ComponentUpdate{ID: id, StartTime: now}
		pt.components[id] = c
	}
	c.Group = group
	c.Title = title
	c.Status = status
	c.Description = description
	c.Timestamp = now
	c.DurationMs = now.Sub(c.StartTime).Milliseconds()

	ev := pt.log.Debug()
	if status == StatusError {
		ev = pt.log.Warn()
	}
	ev.Str("id", id).Str("group", string(group)).Str("status", string(status)).
		Int64("duration_ms", c.DurationMs).Msg(description)
}

// Snapshot returns all tracked components, for a final run summary.
func (pt *ProgressTracker) Snapshot() []*ComponentUpdate {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	out := make([]*ComponentUpdate, 0, len(pt.components))
	for _, c := range pt.components {
		out = append(out, c)
	}
	return out
}
