package progress

// State is the render-ready projection of one snapshot. It is rebuilt from
// scratch on every inbound snapshot; the server is the source of truth for
// history, so nothing from a prior snapshot survives if absent from the
// latest one.
type State struct {
	TransactionID  string
	CurrentAgent   string
	CurrentTasks   map[string][]string
	ProgressEvents []Event
	ExecutionOrder []ExecutionOrderEntry
	IsActive       bool
}

// Project folds a complete snapshot into a State. It is a pure function:
// the returned state shares no mutable data with the snapshot, and calling
// it twice on the same snapshot yields identical results.
//
// A transaction counts as active while any event still reports a running
// status or the current agent set is non-empty. An empty event history
// projects to an inactive state with an empty task map.
func Project(snap Snapshot) State {
	state := State{
		TransactionID:  snap.TransactionID,
		CurrentAgent:   snap.CurrentAgent,
		CurrentTasks:   make(map[string][]string, len(snap.CurrentTasks)),
		ProgressEvents: make([]Event, len(snap.ProgressEvents)),
		ExecutionOrder: make([]ExecutionOrderEntry, len(snap.ExecutionOrder)),
	}

	for agent, tasks := range snap.CurrentTasks {
		copied := make([]string, len(tasks))
		copy(copied, tasks)
		state.CurrentTasks[agent] = copied
	}
	copy(state.ProgressEvents, snap.ProgressEvents)
	copy(state.ExecutionOrder, snap.ExecutionOrder)

	for _, event := range snap.ProgressEvents {
		if event.Status == StatusRunning {
			state.IsActive = true
			break
		}
	}
	if snap.CurrentAgent != "" || len(snap.CurrentTasks) > 0 {
		state.IsActive = true
	}

	return state
}
