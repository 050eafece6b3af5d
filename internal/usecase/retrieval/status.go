package retrieval

import "time"

// State is the index lifecycle state.
type State string

// Index states.
const (
	StateNotBuilt State = "not_built"
	StateBuilding State = "building"
	StateBuilt    State = "built"
)

// Status describes the published snapshot.
type Status struct {
	State        State
	Version      uint64
	BuiltAt      time.Time
	Size         int
	DegradedRows int
	Age          time.Duration
	Stale        bool
}

// Status reports the lifecycle state and the published snapshot's metadata.
func (s *Service) Status() Status {
	snap := s.current.Load()
	st := Status{State: StateNotBuilt}
	if snap != nil {
		st.State = StateBuilt
		st.Version = snap.Version()
		st.BuiltAt = snap.BuiltAt()
		st.Size = snap.Size()
		st.DegradedRows = snap.DegradedRows()
		st.Age = s.cfg.Now().Sub(snap.BuiltAt())
		st.Stale = s.cfg.MaxStaleness > 0 && st.Age > s.cfg.MaxStaleness
	}
	if s.building.Load() {
		st.State = StateBuilding
	}
	return st
}
