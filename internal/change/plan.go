package change

import (
	"sort"

	"github.com/alexisbeaulieu97/reconciler/internal/model"
)

// Plan derives one Change per distinct change id among non-passing checks.
func (e *Engine) Plan(checks []model.CheckResult) []model.Change {
	seen := make(map[string]struct{})
	var changes []model.Change
	for _, check := range checks {
		if check.ChangeID == "" || check.Status == model.StatusPass {
			continue
		}
		if _, dup := seen[check.ChangeID]; dup {
			continue
		}
		req, err := model.ParseChangeID(check.ChangeID)
		if err != nil {
			continue
		}
		seen[check.ChangeID] = struct{}{}

		change := model.Change{
			ID:               check.ChangeID,
			Scope:            req.System,
			Type:             req.ResourceType,
			Risk:             check.Risk,
			RequiresApproval: check.RequiresApproval || check.Risk.Mandatory(),
			Actions:          e.describe(req),
		}
		if change.RequiresApproval {
			change.ApprovalStatus = model.ApprovalPending
		}
		changes = append(changes, change)
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].ID < changes[j].ID })
	return changes
}
