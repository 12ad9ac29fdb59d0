package store

import "time"

// PortFloor is the lowest port ever handed out to a spawned opencode server.
const PortFloor = 9100

// Status classifies a session as observed by the supervisor. It is written
// to the registry for inspection but never trusted on load; every
// status-observing operation recomputes it from live signals.
type Status string

const (
	StatusRunning           Status = "running"
	StatusIdle              Status = "idle"
	StatusWaitingPermission Status = "waiting_permission"
	StatusDead              Status = "dead"
	StatusError             Status = "error"
)

// Operable reports whether a session in this status can accept messages and
// permission operations.
func (s Status) Operable() bool {
	switch s {
	case StatusRunning, StatusWaitingPermission, StatusIdle:
		return true
	}
	return false
}

// SessionRecord is the persisted descriptor of one spawned opencode server.
// ID, Port, and PID are immutable for the lifetime of the record;
// LastActivity is updated on every touch/send.
type SessionRecord struct {
	ID           string    `json:"id"`
	Port         int       `json:"port"`
	PID          int       `json:"pid"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ConfigPath   string    `json:"config_path,omitempty"`
	Status       Status    `json:"status"`
	Agent        string    `json:"agent,omitempty"`

	// HasUncommittedChanges is derived from git at display time and never
	// persisted.
	HasUncommittedChanges bool `json:"-"`
}

// Registry is the persisted container for all session records. NextPort is
// an allocation hint only; correctness derives from the set of occupied
// ports.
type Registry struct {
	Sessions map[string]*SessionRecord `json:"sessions"`
	NextPort int                       `json:"next_port"`
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		Sessions: make(map[string]*SessionRecord),
		NextPort: PortFloor,
	}
}

// AllocatePort returns the smallest free port >= max(PortFloor, NextPort)
// and advances NextPort past it. Must be called inside an active transaction
// so the chosen port cannot be raced by a concurrent allocator: committing
// the advanced NextPort is what reserves the port during the window between
// allocation and the record commit, when no record holds it yet.
// RemoveSession walks NextPort back down, so freed ports are reused before
// the range grows.
func (r *Registry) AllocatePort() int {
	used := make(map[int]bool, len(r.Sessions))
	for _, rec := range r.Sessions {
		used[rec.Port] = true
	}

	port := PortFloor
	if r.NextPort > port {
		port = r.NextPort
	}
	for used[port] {
		port++
	}

	r.NextPort = port + 1
	return port
}

// AddSession inserts a record into the snapshot. It takes effect on disk
// only when the surrounding transaction commits.
func (r *Registry) AddSession(rec *SessionRecord) {
	r.Sessions[rec.ID] = rec
}

// RemoveSession deletes a record by id and makes its port eligible for the
// next allocation. Removing a missing id is a no-op.
func (r *Registry) RemoveSession(id string) {
	rec := r.Sessions[id]
	delete(r.Sessions, id)
	if rec != nil {
		r.ReleasePort(rec.Port)
	}
}

// ReleasePort walks NextPort back down to a freed port so AllocatePort hands
// it out again. Ports below PortFloor are ignored.
func (r *Registry) ReleasePort(port int) {
	if port >= PortFloor && port < r.NextPort {
		r.NextPort = port
	}
}

// GetSession returns the record for id, or nil if absent.
func (r *Registry) GetSession(id string) *SessionRecord {
	return r.Sessions[id]
}

// TouchActivity sets LastActivity to now if the record exists. Returns
// whether the record was found; touching a missing session is not an error.
func (r *Registry) TouchActivity(id string, now time.Time) bool {
	rec, ok := r.Sessions[id]
	if !ok {
		return false
	}
	rec.LastActivity = now
	return true
}
