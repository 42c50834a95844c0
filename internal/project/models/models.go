// Package models defines the design project record.
package models

import (
	"time"

	id "dhfcore/pkg/domain"
	dErrors "dhfcore/pkg/domain-errors"
)

// Project is the root aggregate a design history file hangs off. Its six
// phase instances are seeded at creation and live for the project's whole
// life.
type Project struct {
	ID          id.ProjectID
	Name        string
	Description string
	CreatedBy   id.ActorID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewProject validates and constructs a project.
func NewProject(name, description string, actor id.ActorID, now time.Time) (*Project, error) {
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "project name is required")
	}
	return &Project{
		ID:          id.NewProjectID(),
		Name:        name,
		Description: description,
		CreatedBy:   actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Snapshot is the audit-trail representation of a project.
type Snapshot struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (p *Project) Snap() Snapshot {
	return Snapshot{Name: p.Name, Description: p.Description}
}
