package models

import (
	"strings"
	"time"
)

// RequestType classifies what the requester is asking for.
type RequestType string

const (
	RequestTypeCourseRegistration RequestType = "REGISTRO_ASIGNATURAS"
	RequestTypeCreditTransfer     RequestType = "HOMOLOGACION"
	RequestTypeCourseCancellation RequestType = "CANCELACION_ASIGNATURAS"
	RequestTypeSeatRequest        RequestType = "SOLICITUD_CUPOS"
	RequestTypeAcademicInquiry    RequestType = "CONSULTA_ACADEMICA"
)

// RequestTypes lists every request type in declaration order.
var RequestTypes = []RequestType{
	RequestTypeCourseRegistration,
	RequestTypeCreditTransfer,
	RequestTypeCourseCancellation,
	RequestTypeSeatRequest,
	RequestTypeAcademicInquiry,
}

var requestTypeLabels = map[RequestType]string{
	RequestTypeCourseRegistration: "Registro de asignaturas",
	RequestTypeCreditTransfer:     "Homologación",
	RequestTypeCourseCancellation: "Cancelación de asignaturas",
	RequestTypeSeatRequest:        "Solicitud de cupos",
	RequestTypeAcademicInquiry:    "Consulta académica",
}

// Valid reports whether t is a known request type.
func (t RequestType) Valid() bool {
	_, ok := requestTypeLabels[t]
	return ok
}

// Label returns the display label.
func (t RequestType) Label() string { return requestTypeLabels[t] }

// ParseRequestType parses a case-insensitive type name.
func ParseRequestType(raw string) (RequestType, bool) {
	t := RequestType(strings.ToUpper(strings.TrimSpace(raw)))
	return t, t.Valid()
}

// RequestState is a step of the request lifecycle.
type RequestState string

const (
	StateRegistered RequestState = "REGISTERED"
	StateClassified RequestState = "CLASSIFIED"
	StateInProgress RequestState = "IN_PROGRESS"
	StateAttended   RequestState = "ATTENDED"
	StateClosed     RequestState = "CLOSED"
)

// RequestStates lists the lifecycle in order.
var RequestStates = []RequestState{
	StateRegistered,
	StateClassified,
	StateInProgress,
	StateAttended,
	StateClosed,
}

var requestStateLabels = map[RequestState]string{
	StateRegistered: "Registrada",
	StateClassified: "Clasificada",
	StateInProgress: "En atención",
	StateAttended:   "Atendida",
	StateClosed:     "Cerrada",
}

// transitions is the only place the lifecycle chain is declared.
var transitions = map[RequestState]RequestState{
	StateRegistered: StateClassified,
	StateClassified: StateInProgress,
	StateInProgress: StateAttended,
	StateAttended:   StateClosed,
}

// Valid reports whether s is a known state.
func (s RequestState) Valid() bool {
	_, ok := requestStateLabels[s]
	return ok
}

// Label returns the display label.
func (s RequestState) Label() string { return requestStateLabels[s] }

// Terminal reports whether no transition leaves s.
func (s RequestState) Terminal() bool { return s == StateClosed }

// Next returns the single legal successor of s. ok is false for CLOSED and unknown states.
func (s RequestState) Next() (RequestState, bool) {
	next, ok := transitions[s]
	return next, ok
}

// CanTransitionTo reports whether next is the legal successor of s.
func (s RequestState) CanTransitionTo(next RequestState) bool {
	legal, ok := s.Next()
	return ok && legal == next
}

// LegalNextStates returns the states reachable from s in one step.
func LegalNextStates(s RequestState) []RequestState {
	if next, ok := s.Next(); ok {
		return []RequestState{next}
	}
	return []RequestState{}
}

// ParseRequestState parses a case-insensitive state name.
func ParseRequestState(raw string) (RequestState, bool) {
	s := RequestState(strings.ToUpper(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// Priority ranks how urgently a request must be handled.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// PriorityUnset buckets requests that have not been prioritized yet. It is
// never stored on a request.
const PriorityUnset Priority = "UNSET"

// Priorities lists priorities from lowest to highest.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

var priorityLabels = map[Priority]string{
	PriorityLow:      "Baja",
	PriorityMedium:   "Media",
	PriorityHigh:     "Alta",
	PriorityCritical: "Crítica",
}

var priorityLevels = map[Priority]int{
	PriorityLow:      1,
	PriorityMedium:   2,
	PriorityHigh:     3,
	PriorityCritical: 4,
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	_, ok := priorityLabels[p]
	return ok
}

// Label returns the display label.
func (p Priority) Label() string { return priorityLabels[p] }

// Level returns the numeric rank, 0 for unknown values.
func (p Priority) Level() int { return priorityLevels[p] }

// ParsePriority parses a case-insensitive priority name.
func ParsePriority(raw string) (Priority, bool) {
	p := Priority(strings.ToUpper(strings.TrimSpace(raw)))
	return p, p.Valid()
}

// Channel is the intake source of a request.
type Channel string

const (
	ChannelServiceCenter Channel = "CSU"
	ChannelEmail         Channel = "EMAIL"
	ChannelAcademicSys   Channel = "SAC"
	ChannelTelephone     Channel = "TELEPHONE"
	ChannelInPerson      Channel = "IN_PERSON"
)

// Channels lists every intake channel.
var Channels = []Channel{
	ChannelServiceCenter,
	ChannelEmail,
	ChannelAcademicSys,
	ChannelTelephone,
	ChannelInPerson,
}

var channelLabels = map[Channel]string{
	ChannelServiceCenter: "Centro de Servicios Universitarios",
	ChannelEmail:         "Correo electrónico",
	ChannelAcademicSys:   "Sistema Académico",
	ChannelTelephone:     "Telefónico",
	ChannelInPerson:      "Atención presencial",
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	_, ok := channelLabels[c]
	return ok
}

// Label returns the display label.
func (c Channel) Label() string { return channelLabels[c] }

// ParseChannel parses a case-insensitive channel name.
func ParseChannel(raw string) (Channel, bool) {
	c := Channel(strings.ToUpper(strings.TrimSpace(raw)))
	return c, c.Valid()
}

// Request is an academic service request tracked through its lifecycle.
type Request struct {
	ID             int64          `db:"id" json:"id"`
	Title          string         `db:"title" json:"title"`
	Description    string         `db:"description" json:"description"`
	Type           *RequestType   `db:"type" json:"type"`
	State          RequestState   `db:"state" json:"state"`
	Priority       *Priority      `db:"priority" json:"priority"`
	PriorityReason *string        `db:"priority_reason" json:"priorityReason,omitempty"`
	Channel        Channel        `db:"channel" json:"channel"`
	RequesterID    int64          `db:"requester_id" json:"requesterId"`
	ResponsibleID  *int64         `db:"responsible_id" json:"responsibleId"`
	Remarks        *string        `db:"remarks" json:"remarks,omitempty"`
	Deadline       *time.Time     `db:"deadline" json:"deadline,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updatedAt"`
	Version        int64          `db:"version" json:"-"`
	History        []HistoryEntry `db:"-" json:"history"`
}

// Clone returns a deep copy so callers can mutate without touching the original.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	if r.Type != nil {
		v := *r.Type
		c.Type = &v
	}
	if r.Priority != nil {
		v := *r.Priority
		c.Priority = &v
	}
	if r.PriorityReason != nil {
		v := *r.PriorityReason
		c.PriorityReason = &v
	}
	if r.ResponsibleID != nil {
		v := *r.ResponsibleID
		c.ResponsibleID = &v
	}
	if r.Remarks != nil {
		v := *r.Remarks
		c.Remarks = &v
	}
	if r.Deadline != nil {
		v := *r.Deadline
		c.Deadline = &v
	}
	c.History = append([]HistoryEntry(nil), r.History...)
	return &c
}

// HistoryEntry is one immutable fact about an action taken on a request.
type HistoryEntry struct {
	ID         int64     `db:"id" json:"id"`
	RequestID  int64     `db:"request_id" json:"requestId"`
	ActorID    *int64    `db:"actor_id" json:"actorId"`
	Action     string    `db:"action" json:"action"`
	Remarks    *string   `db:"remarks" json:"remarks,omitempty"`
	OccurredAt time.Time `db:"occurred_at" json:"occurredAt"`
}

// History action labels.
const (
	HistoryActionClassified  = "Classified"
	HistoryActionPrioritized = "Prioritized"
	HistoryActionAssigned    = "Assigned"
	HistoryActionClosed      = "Closed"
)

// StateChangedAction builds the label recorded for an explicit transition.
func StateChangedAction(next RequestState) string {
	return "State changed to " + string(next)
}

// RequestFilter narrows request listings. Nil fields are wildcards.
type RequestFilter struct {
	State         *RequestState
	Type          *RequestType
	Priority      *Priority
	ResponsibleID *int64
	RequesterID   *int64
}

// Matches reports whether r satisfies every provided criterion.
func (f RequestFilter) Matches(r Request) bool {
	if f.State != nil && r.State != *f.State {
		return false
	}
	if f.Type != nil && (r.Type == nil || *r.Type != *f.Type) {
		return false
	}
	if f.Priority != nil && (r.Priority == nil || *r.Priority != *f.Priority) {
		return false
	}
	if f.ResponsibleID != nil && (r.ResponsibleID == nil || *r.ResponsibleID != *f.ResponsibleID) {
		return false
	}
	if f.RequesterID != nil && r.RequesterID != *f.RequesterID {
		return false
	}
	return true
}
