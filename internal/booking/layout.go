// Package booking defines the appointment booking wizard: its stages, how
// they depend on each other, and how a finished wizard decodes into an
// appointment request.
package booking

import (
	"github.com/wolfman30/booking-wizard/internal/wizard"
)

// Stage ids in wizard order.
const (
	StagePatient wizard.StageID = iota
	StageDepartment
	StageDoctor
	StageDate
	StageSlot
	StageReview
)

// Submission payload fields.
const (
	FieldPatient    = "patient_id"
	FieldDepartment = "department_id"
	FieldDoctor     = "doctor_id"
	FieldDate       = "date"
	FieldSlot       = "slot"
)

// DateLayout is the wire format of the date stage.
const DateLayout = "2006-01-02"

// Stages returns the booking stage definitions. The date stage depends on
// the doctor because dates are drawn from that doctor's working calendar.
func Stages() []wizard.Stage {
	return []wizard.Stage{
		{ID: StagePatient, Name: "patient", Field: FieldPatient},
		{ID: StageDepartment, Name: "department", Field: FieldDepartment, DependsOn: []wizard.StageID{StagePatient}},
		{ID: StageDoctor, Name: "doctor", Field: FieldDoctor, DependsOn: []wizard.StageID{StageDepartment}},
		{ID: StageDate, Name: "date", Field: FieldDate, DependsOn: []wizard.StageID{StageDoctor}},
		{ID: StageSlot, Name: "slot", Field: FieldSlot, DependsOn: []wizard.StageID{StageDoctor, StageDate}},
		{ID: StageReview, Name: "review", DependsOn: []wizard.StageID{StageSlot}, Terminal: true},
	}
}

// NewGraph builds the booking stage graph.
func NewGraph() *wizard.Graph {
	return wizard.MustGraph(Stages())
}
