package dto

import "time"

// SubmitRequest is the intake payload for a new academic request.
type SubmitRequest struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description" validate:"required,max=4000"`
	Channel     string     `json:"channel" validate:"required"`
	RequesterID int64      `json:"requesterId" validate:"required,gt=0"`
	Deadline    *time.Time `json:"deadline"`
}

// ClassifyRequest sets the request type.
type ClassifyRequest struct {
	Type    string  `json:"type" validate:"required"`
	Remarks *string `json:"remarks" validate:"omitempty,max=1000"`
	ActorID *int64  `json:"actorId" validate:"omitempty,gt=0"`
}

// PrioritizeRequest sets an explicit priority, or asks the server to derive one when Priority is omitted.
type PrioritizeRequest struct {
	Priority *string `json:"priority"`
	Remarks  *string `json:"remarks" validate:"omitempty,max=1000"`
	ActorID  *int64  `json:"actorId" validate:"omitempty,gt=0"`
}

// AssignRequest hands the request to a responsible user.
type AssignRequest struct {
	ResponsibleID int64   `json:"responsibleId" validate:"required,gt=0"`
	Remarks       *string `json:"remarks" validate:"omitempty,max=1000"`
	ActorID       *int64  `json:"actorId" validate:"omitempty,gt=0"`
}

// ChangeStateRequest moves the request to its next lifecycle state.
type ChangeStateRequest struct {
	State   string  `json:"state" validate:"required"`
	Remarks *string `json:"remarks" validate:"omitempty,max=1000"`
	ActorID *int64  `json:"actorId" validate:"omitempty,gt=0"`
}

// CloseRequest closes an attended request. Remarks are mandatory.
type CloseRequest struct {
	Remarks string `json:"remarks" validate:"max=1000"`
	ActorID *int64 `json:"actorId" validate:"omitempty,gt=0"`
}

// RequestQuery mirrors supported listing filters.
type RequestQuery struct {
	State         string `form:"state"`
	Type          string `form:"type"`
	Priority      string `form:"priority"`
	ResponsibleID *int64 `form:"responsibleId"`
	RequesterID   *int64 `form:"requesterId"`
}

// StateOption is a lifecycle state with its display label.
type StateOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// NextStatesResponse lists the legal successors of a state.
type NextStatesResponse struct {
	State    StateOption   `json:"state"`
	Next     []StateOption `json:"next"`
	Terminal bool          `json:"terminal"`
}
