package domain

import "time"

type (
	SessionID    string
	AnnotationID string
)

type AnnotationType string

const (
	AnnotationFreeDraw  AnnotationType = "free-draw"
	AnnotationArrow     AnnotationType = "arrow"
	AnnotationCircle    AnnotationType = "circle"
	AnnotationRectangle AnnotationType = "rectangle"
	AnnotationText      AnnotationType = "text"
	AnnotationAnchor    AnnotationType = "anchor"
	AnnotationClear     AnnotationType = "clear"
)

// Point is a normalized [0,1] coordinate on the shared video surface.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AnnotationData carries the type-specific payload. Which fields are
// required depends on the annotation type; see broadcaster validation.
type AnnotationData struct {
	Points    []Point `json:"points,omitempty" validate:"omitempty,dive"`
	From      *Point  `json:"from,omitempty"`
	To        *Point  `json:"to,omitempty"`
	Center    *Point  `json:"center,omitempty"`
	Radius    float64 `json:"radius,omitempty" validate:"gte=0"`
	Position  *Point  `json:"position,omitempty"`
	Width     float64 `json:"width,omitempty" validate:"gte=0"`
	Height    float64 `json:"height,omitempty" validate:"gte=0"`
	Text      string  `json:"text,omitempty" validate:"max=512"`
	Color     string  `json:"color,omitempty" validate:"max=32"`
	Thickness float64 `json:"thickness,omitempty" validate:"gte=0"`
}

// Annotation is immutable after creation; clears remove logically.
type Annotation struct {
	ID              AnnotationID   `json:"id"`
	SessionID       SessionID      `json:"sessionId"`
	AuthorConn      string         `json:"authorConn"`
	AuthorID        UserID         `json:"authorId"`
	Timestamp       time.Time      `json:"timestamp"`
	Type            AnnotationType `json:"type"`
	Data            AnnotationData `json:"data"`
	Precision       string         `json:"precision,omitempty"`
	ClinicalContext string         `json:"clinicalContext,omitempty"`
}

// SessionConfig bounds one annotation session.
type SessionConfig struct {
	MaxAnnotations int           `json:"maxAnnotations"`
	Retention      time.Duration `json:"retention"`
	Precision      string        `json:"precision"`
}
