package models

import "time"

// Project is the thesis work unit binding one student, one advisor and an
// ordered sequence of document versions. The student/advisor link is
// immutable except through administrative reassignment.
type Project struct {
	ID        string    `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	StudentID string    `db:"student_id" json:"student_id"`
	AdvisorID string    `db:"advisor_id" json:"advisor_id"`
	PeriodID  string    `db:"period_id" json:"period_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ProjectFilter scopes project listings.
type ProjectFilter struct {
	StudentID string
	AdvisorID string
	PeriodID  string
	Page      int
	PageSize  int
}

// IsMember reports whether the actor is the project's student or advisor.
func (p *Project) IsMember(actor Actor) bool {
	switch actor.Role {
	case RoleStudent:
		return p.StudentID == actor.ID
	case RoleAdvisor:
		return p.AdvisorID == actor.ID
	case RoleAdmin:
		return true
	default:
		return false
	}
}
