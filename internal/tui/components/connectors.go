package components

import (
	"github.com/alexisbeaulieu97/reconciler/internal/model"
)

// ConnectorEntry is one connector row in the dashboard.
type ConnectorEntry struct {
	Name   string
	Done   bool
	Checks []model.CheckResult
}

// Status is the most severe status among the entry's checks, or "" while
// the connector is still running.
func (e ConnectorEntry) Status() model.Status {
	if !e.Done {
		return ""
	}
	return Worst(e.Checks)
}

// Counts partitions the entry's checks by status.
func (e ConnectorEntry) Counts() model.Summary {
	return model.Summarize(e.Checks)
}

var severity = map[model.Status]int{
	model.StatusPass:    1,
	model.StatusWarning: 2,
	model.StatusFail:    3,
	model.StatusError:   4,
}

// Worst returns the most severe status in checks; pass when checks is empty.
func Worst(checks []model.CheckResult) model.Status {
	worst := model.StatusPass
	for _, check := range checks {
		status := check.Status
		if _, ok := severity[status]; !ok {
			status = model.StatusError
		}
		if severity[status] > severity[worst] {
			worst = status
		}
	}
	return worst
}

// ConnectorList keeps connector rows in display order.
type ConnectorList struct {
	entries []ConnectorEntry
}

// NewConnectorList builds a list following order.
func NewConnectorList(order []string, entries map[string]ConnectorEntry) ConnectorList {
	out := make([]ConnectorEntry, 0, len(order))
	for _, name := range order {
		entry, ok := entries[name]
		if !ok {
			entry = ConnectorEntry{Name: name}
		}
		out = append(out, entry)
	}
	return ConnectorList{entries: out}
}

// Entries returns a copy of the ordered rows.
func (l ConnectorList) Entries() []ConnectorEntry {
	clone := make([]ConnectorEntry, len(l.entries))
	copy(clone, l.entries)
	return clone
}

// Done counts settled connectors.
func (l ConnectorList) Done() int {
	n := 0
	for _, entry := range l.entries {
		if entry.Done {
			n++
		}
	}
	return n
}
