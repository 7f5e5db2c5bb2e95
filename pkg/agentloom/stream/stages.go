package stream

// Stage is one row of the client-visible build checklist.
type Stage struct {
	Label  string      `json:"label"`
	Status StageStatus `json:"status"`
}

// StageList models the client-side view of build_stage events: a bounded,
// named set keyed by label with insertion-order display, not a growing log.
// A second event for a known label updates the existing row in place.
type StageList struct {
	order  []string
	stages map[string]StageStatus
}

// NewStageList returns an empty checklist.
func NewStageList() *StageList {
	return &StageList{stages: make(map[string]StageStatus)}
}

// Apply upserts one build_stage event into the checklist.
func (l *StageList) Apply(label string, status StageStatus) {
	if _, ok := l.stages[label]; !ok {
		l.order = append(l.order, label)
	}
	l.stages[label] = status
}

// Stages returns the checklist rows in first-seen order.
func (l *StageList) Stages() []Stage {
	out := make([]Stage, 0, len(l.order))
	for _, label := range l.order {
		out = append(out, Stage{Label: label, Status: l.stages[label]})
	}
	return out
}

// Status returns the current status for a label, or "" if never reported.
func (l *StageList) Status(label string) StageStatus {
	return l.stages[label]
}
