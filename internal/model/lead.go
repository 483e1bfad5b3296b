// Package model defines the CRM lead types shared across the scoring
// pipeline, result store, and mover.
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// ContactValue is a single phone number or email address. Kommo returns
// these either as objects with a "value" key or as bare strings depending
// on the endpoint, so decoding accepts both.
type ContactValue struct {
	Value string `json:"value"`
}

// UnmarshalJSON accepts {"value":"..."} or a bare JSON string.
func (c *ContactValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Value = s
		return nil
	}
	var obj struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	c.Value = obj.Value
	return nil
}

// ContactList is an ordered list of contact values. Accepts a JSON array
// or a single bare string.
type ContactList []ContactValue

// UnmarshalJSON accepts ["..."], [{"value":...}], or "...".
func (l *ContactList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" {
			*l = nil
			return nil
		}
		*l = ContactList{{Value: s}}
		return nil
	}
	var vals []ContactValue
	if err := json.Unmarshal(data, &vals); err != nil {
		return err
	}
	*l = vals
	return nil
}

// Join renders the list as a comma-joined display string, or fallback
// when the list is empty.
func (l ContactList) Join(fallback string) string {
	var parts []string
	for _, v := range l {
		if v.Value != "" {
			parts = append(parts, v.Value)
		}
	}
	if len(parts) == 0 {
		return fallback
	}
	return strings.Join(parts, ", ")
}

// CustomFieldValue is one value of a custom field.
type CustomFieldValue struct {
	Value any `json:"value"`
}

// CustomField is a named custom field with one or more values.
type CustomField struct {
	FieldID   int                `json:"field_id,omitempty"`
	FieldName string             `json:"field_name"`
	Values    []CustomFieldValue `json:"values"`
}

// PipelineRef identifies a pipeline on a lead.
type PipelineRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// StatusRef identifies a pipeline stage on a lead.
type StatusRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Tag is a free-form lead tag.
type Tag struct {
	ID   int    `json:"id,omitempty"`
	Name string `json:"name"`
}

// Contact is an embedded contact record.
type Contact struct {
	ID       int         `json:"id"`
	Name     string      `json:"name,omitempty"`
	Position string      `json:"position,omitempty"`
	Phone    ContactList `json:"phone,omitempty"`
	Email    ContactList `json:"email,omitempty"`
}

// Company is an embedded company record.
type Company struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Embedded holds the _embedded payload of a lead.
type Embedded struct {
	Tags      []Tag     `json:"tags,omitempty"`
	Contacts  []Contact `json:"contacts,omitempty"`
	Companies []Company `json:"companies,omitempty"`
}

// Message is a message-like communication event on a lead: a chat
// message, call, SMS, or email, with a direction where known.
type Message struct {
	ID        int    `json:"id"`
	Text      string `json:"text"`
	Type      string `json:"type,omitempty"`
	CreatedAt int64  `json:"created_at"`
	Incoming  bool   `json:"is_incoming,omitempty"`
}

// Note is a free-text note attached to a lead. Kommo nests the text
// either at the top level or under params depending on the note type.
type Note struct {
	ID        int    `json:"id"`
	Text      string `json:"text,omitempty"`
	NoteType  string `json:"note_type,omitempty"`
	CreatedAt int64  `json:"created_at"`
	Params    *struct {
		Text string `json:"text"`
	} `json:"params,omitempty"`
}

// Body returns the note text regardless of where the API nested it.
func (n Note) Body() string {
	if n.Text != "" {
		return n.Text
	}
	if n.Params != nil {
		return n.Params.Text
	}
	return ""
}

// Lead is a CRM sales prospect record. The id is CRM-assigned, immutable,
// and the sole join key across the result store, mover, and exports.
type Lead struct {
	ID                int           `json:"id"`
	Name              string        `json:"name"`
	CompanyName       string        `json:"company_name,omitempty"`
	Position          string        `json:"position,omitempty"`
	Phone             ContactList   `json:"phone,omitempty"`
	Email             ContactList   `json:"email,omitempty"`
	CustomFields      []CustomField `json:"custom_fields_values,omitempty"`
	Pipeline          *PipelineRef  `json:"pipeline,omitempty"`
	Status            *StatusRef    `json:"status,omitempty"`
	PipelineID        int           `json:"pipeline_id,omitempty"`
	StatusID          int           `json:"status_id,omitempty"`
	Price             int64         `json:"price,omitempty"`
	CreatedAt         int64         `json:"created_at,omitempty"`
	UpdatedAt         int64         `json:"updated_at,omitempty"`
	ClosedAt          *int64        `json:"closed_at,omitempty"`
	ResponsibleUserID int           `json:"responsible_user_id,omitempty"`
	Embedded          *Embedded     `json:"_embedded,omitempty"`

	// Transient enrichment attached only during a scoring run.
	Messages []Message `json:"messages,omitempty"`
	Notes    []Note    `json:"notes,omitempty"`
}

// IsClosed reports whether the lead carries a close timestamp. Closed
// leads are excluded from candidate sets and from the visible result
// store.
func (l Lead) IsClosed() bool {
	return l.ClosedAt != nil && *l.ClosedAt != 0
}

// PipelineName returns the pipeline display name, if any.
func (l Lead) PipelineName() string {
	if l.Pipeline != nil {
		return l.Pipeline.Name
	}
	return ""
}

// StatusName returns the stage display name, if any.
func (l Lead) StatusName() string {
	if l.Status != nil {
		return l.Status.Name
	}
	return ""
}

// TagNames returns the embedded tag names in order.
func (l Lead) TagNames() []string {
	if l.Embedded == nil {
		return nil
	}
	names := make([]string, 0, len(l.Embedded.Tags))
	for _, t := range l.Embedded.Tags {
		names = append(names, t.Name)
	}
	return names
}

// NeutralScore is the fallback engagement score recorded when scoring a
// lead fails or the model response cannot be parsed.
const NeutralScore = 5

// ScoredLead is a lead plus its AI engagement score. Immutable once
// written; a later run replaces the whole record ("last score wins").
type ScoredLead struct {
	Lead
	AIScore  int    `json:"ai_score"`
	AIReason string `json:"ai_reason"`
}

// Pipeline is a CRM pipeline with its stages.
type Pipeline struct {
	ID       int         `json:"id"`
	Name     string      `json:"name"`
	Statuses []StatusRef `json:"statuses,omitempty"`
}

// User is a CRM account user eligible for lead ownership.
type User struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// FormatDate renders a unix timestamp as a short human-readable date, or
// "" for zero.
func FormatDate(unix int64) string {
	if unix == 0 {
		return ""
	}
	return time.Unix(unix, 0).UTC().Format("2006-01-02")
}
