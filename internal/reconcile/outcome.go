package reconcile

import (
	"time"

	"github.com/dropDatabas3/rebano/internal/audit"
	"github.com/dropDatabas3/rebano/internal/domain/result"
)

// Action es la escritura correctiva aplicada a un registro.
type Action string

const (
	ActionCreateProfile     Action = "create_profile"
	ActionCreateMember      Action = "create_member"
	ActionLinkMember        Action = "link_member"
	ActionMergeMember       Action = "merge_member"
	ActionRepointAssignment Action = "repoint_assignment"
	ActionDeleteMember      Action = "delete_member"
	ActionUpdateProfile     Action = "update_profile"
	ActionUpdateMember      Action = "update_member"
	ActionDeleteProfile     Action = "delete_profile"
)

// Status del resultado por registro.
type Status string

const (
	StatusApplied Status = "applied"
	StatusPlanned Status = "planned" // dry run
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Outcome es el resultado de una acción sobre un registro.
type Outcome struct {
	Category audit.Category `json:"category"`
	Action   Action         `json:"action"`
	RecordID string         `json:"recordId"`
	Status   Status         `json:"status"`
	Attempts int            `json:"attempts,omitempty"`
	Kind     result.Kind    `json:"kind,omitempty"`
	Detail   string         `json:"detail,omitempty"`
}

func newOutcome(t task, res result.Result[string], status Status, attempts int) Outcome {
	o := Outcome{Category: t.category, Action: t.action, RecordID: t.recordID, Status: status, Attempts: attempts}
	if e := res.Err(); e != nil {
		o.Kind, o.Detail = e.Kind, e.Detail
	}
	return o
}

// CategorySummary cuenta los resultados de una categoría. Failures guarda
// las primeras N fallas como muestra.
type CategorySummary struct {
	Planned  int       `json:"planned"`
	Applied  int       `json:"applied"`
	Failed   int       `json:"failed"`
	Skipped  int       `json:"skipped"`
	Failures []Outcome `json:"failures,omitempty"`
}

// Summary es el resultado de una pasada de reconciliación.
type Summary struct {
	PassID     string                              `json:"passId"`
	Token      string                              `json:"token"`
	Policy     Policy                              `json:"policy"`
	DryRun     bool                                `json:"dryRun"`
	StartedAt  time.Time                           `json:"startedAt"`
	FinishedAt time.Time                           `json:"finishedAt"`
	Writes     int                                 `json:"writes"`
	Canceled   bool                                `json:"canceled,omitempty"`
	Categories map[audit.Category]*CategorySummary `json:"categories"`
	Outcomes   []Outcome                           `json:"outcomes"`

	projected *audit.Snapshot
}

// Projected es el estado de los stores que la pasada dejó (o dejaría, en dry
// run), reflejado localmente a partir de cada escritura.
func (s *Summary) Projected() *audit.Snapshot { return s.projected }

// Failed cuenta los registros fallidos en todas las categorías.
func (s *Summary) Failed() int {
	n := 0
	for _, c := range s.Categories {
		n += c.Failed
	}
	return n
}

func (s *Summary) add(o Outcome, samples int) {
	cs := s.Categories[o.Category]
	if cs == nil {
		cs = &CategorySummary{}
		s.Categories[o.Category] = cs
	}
	switch o.Status {
	case StatusApplied:
		cs.Applied++
		s.Writes++
	case StatusPlanned:
		cs.Planned++
	case StatusSkipped:
		cs.Skipped++
	case StatusFailed:
		cs.Failed++
		if len(cs.Failures) < samples {
			cs.Failures = append(cs.Failures, o)
		}
	}
	s.Outcomes = append(s.Outcomes, o)
}
