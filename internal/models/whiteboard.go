package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stroke tools.
const (
	ToolPen         = "pen"
	ToolEraser      = "eraser"
	ToolHighlighter = "highlighter"
)

// Point is one sampled position of a stroke.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is one drawn element on the whiteboard.
type Stroke struct {
	Tool   string  `json:"tool"`
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	Points []Point `json:"points"`
}

// ValidTool reports whether tool is one of the supported stroke tools.
func ValidTool(tool string) bool {
	switch tool {
	case ToolPen, ToolEraser, ToolHighlighter:
		return true
	}
	return false
}

// Whiteboard is the last saved drawing of a session (one per session).
type Whiteboard struct {
	ID          uuid.UUID       `json:"id"`
	SessionID   uuid.UUID       `json:"sessionId"`
	Content     json.RawMessage `json:"content"`
	LastSavedAt time.Time       `json:"lastSavedAt"`
}

// ErrInvalidStrokes is returned when whiteboard content is not a list of well-formed strokes.
var ErrInvalidStrokes = errors.New("invalid whiteboard content")

// ValidateContent checks that raw is a JSON array of strokes with known tools.
// An empty or null body is treated as an empty board.
func ValidateContent(raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var strokes []Stroke
	if err := json.Unmarshal(raw, &strokes); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStrokes, err)
	}
	for i, s := range strokes {
		if !ValidTool(s.Tool) {
			return fmt.Errorf("%w: stroke %d has unknown tool %q", ErrInvalidStrokes, i, s.Tool)
		}
		if s.Width < 0 {
			return fmt.Errorf("%w: stroke %d has negative width", ErrInvalidStrokes, i)
		}
	}
	return nil
}

// EmptyContent is the content of a freshly created whiteboard.
var EmptyContent = json.RawMessage(`[]`)
