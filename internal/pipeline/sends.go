package pipeline

import (
	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/model"
)

func sendKey(side model.Side, fp string) string { return string(side) + "|" + fp }

func wasDelivered(o model.SendOutcome) bool {
	return o == model.SendNew || o == model.SendExisting
}

// pendingLeads removes leads the send log already shows as delivered.
func pendingLeads(leads []dispatch.Lead, log []model.SendRecord) []dispatch.Lead {
	done := make(map[string]bool, len(log))
	for _, rec := range log {
		if wasDelivered(rec.Outcome) {
			done[sendKey(rec.Side, rec.Fingerprint)] = true
		}
	}
	out := leads[:0:0]
	for _, l := range leads {
		if !done[sendKey(l.Side, l.Fingerprint)] {
			out = append(out, l)
		}
	}
	return out
}

func delivered(log []model.SendRecord) int {
	seen := make(map[string]bool)
	for _, rec := range log {
		if wasDelivered(rec.Outcome) {
			seen[sendKey(rec.Side, rec.Fingerprint)] = true
		}
	}
	return len(seen)
}

// Summarize folds a send log into one breakdown where each lead counts once,
// by its latest outcome. total is the number of leads the run addressed.
func Summarize(log []model.SendRecord, total int) *model.DispatchSummary {
	latest := make(map[string]int, len(log))
	var order []string
	for i, rec := range log {
		k := sendKey(rec.Side, rec.Fingerprint)
		if _, ok := latest[k]; !ok {
			order = append(order, k)
		}
		latest[k] = i
	}

	sum := &model.DispatchSummary{Total: total}
	for _, k := range order {
		rec := log[latest[k]]
		switch rec.Outcome {
		case model.SendNew:
			sum.New++
		case model.SendExisting:
			sum.Existing++
		default:
			sum.NeedsAttention++
		}
		sum.Records = append(sum.Records, rec)
	}
	return sum
}
