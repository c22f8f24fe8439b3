package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/lectura/studyroom/internal/models"
)

// Client-originated message types.
const (
	TypeJoin                = "join"
	TypeLeave               = "leave"
	TypeTabSwitch           = "tab_switch"
	TypePause               = "pause"
	TypeUnpause             = "unpause"
	TypeBreakStart          = "break_start"
	TypeBreakEnd            = "break_end"
	TypeWhiteboardUpdate    = "whiteboard_update"
	TypeDrawingState        = "drawing_state"
	TypeMuteParticipant     = "mute_participant"
	TypeMuteAll             = "mute_all"
	TypeKickParticipant     = "kick_participant"
	TypeConcentrationToggle = "concentration_toggle"
	TypeChatMessage         = "chat_message"
	TypeReactionAdd         = "reaction_add"
	TypePresentationUpload  = "presentation_upload"
	TypePresentationControl = "presentation_control"
)

// Server-originated message types.
const (
	EventSessionState         = "session_state"
	EventParticipantJoined    = "participant_joined"
	EventParticipantLeft      = "participant_left"
	EventTabSwitch            = "tab_switch"
	EventParticipantPaused    = "participant_paused"
	EventParticipantUnpaused  = "participant_unpaused"
	EventBreakStarted         = "break_started"
	EventBreakEnded           = "break_ended"
	EventWhiteboardUpdate     = "whiteboard_update"
	EventDrawingState         = "drawing_state"
	EventParticipantMuted     = "participant_muted"
	EventAllMuted             = "all_muted"
	EventParticipantKicked    = "participant_kicked"
	EventConcentrationToggled = "concentration_toggled"
	EventChatMessage          = "chat_message"
	EventReactionAdded        = "reaction_added"
	EventPresentationUploaded = "presentation_uploaded"
	EventPresentationControl  = "presentation_control"
	EventSessionEnded         = "session_ended"
	EventChatError            = "chat_error"
	EventActionBlocked        = "action_blocked"
	EventPresentationError    = "presentation_error"
	EventError                = "error"
)

// Presentation control actions.
const (
	ActionSetPage    = "setPage"
	ActionActivate   = "activate"
	ActionDeactivate = "deactivate"
	ActionGrantEdit  = "grantEdit"
	ActionRevokeEdit = "revokeEdit"
)

const (
	maxChatRunes     = 2000
	maxEmojiRunes    = 16
	maxFileNameRunes = 255
)

// Envelope is the wire format in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Event is an outbound envelope whose data is marshalled on send.
type Event struct {
	Type      string    `json:"type"`
	SessionID uuid.UUID `json:"sessionId"`
	Data      any       `json:"data,omitempty"`
}

// Message is a decoded inbound envelope with its typed payload.
type Message struct {
	Type      string
	SessionID uuid.UUID
	Payload   any
}

// Inbound payloads. Types without fields carry no data.
type (
	JoinPayload      struct{}
	LeavePayload     struct{}
	TabSwitchPayload struct{}
	PausePayload     struct{}
	UnpausePayload   struct{}
	MuteAllPayload   struct{}

	BreakStartPayload struct {
		Duration int `json:"duration"` // requested minutes, advisory
	}
	BreakEndPayload struct {
		ActualDuration int `json:"actualDuration"` // seconds, client-reported
	}
	WhiteboardUpdatePayload struct {
		Content json.RawMessage `json:"content"`
	}
	DrawingStatePayload struct {
		Tool      string  `json:"tool"`
		Color     string  `json:"color"`
		Size      float64 `json:"size"`
		IsDrawing bool    `json:"isDrawing"`
	}
	MuteParticipantPayload struct {
		UserID uuid.UUID `json:"userId"`
	}
	KickParticipantPayload struct {
		UserID uuid.UUID `json:"userId"`
	}
	ConcentrationTogglePayload struct {
		Enabled *bool `json:"enabled,omitempty"`
	}
	ChatMessagePayload struct {
		Content string `json:"content"`
	}
	ReactionAddPayload struct {
		Emoji string  `json:"emoji"`
		X     float64 `json:"x"`
		Y     float64 `json:"y"`
	}
	PresentationUploadPayload struct {
		FileName string      `json:"fileName"`
		FileURL  string      `json:"fileUrl"`
		FileType string      `json:"fileType"`
		Editors  []uuid.UUID `json:"editors,omitempty"`
	}
	PresentationControlPayload struct {
		PresentationID uuid.UUID `json:"presentationId"`
		Action         string    `json:"action"`
		Page           int       `json:"page,omitempty"`
		UserID         uuid.UUID `json:"userId,omitempty"`
	}
)

var payloadTypes = map[string]func() any{
	TypeJoin:                func() any { return &JoinPayload{} },
	TypeLeave:               func() any { return &LeavePayload{} },
	TypeTabSwitch:           func() any { return &TabSwitchPayload{} },
	TypePause:               func() any { return &PausePayload{} },
	TypeUnpause:             func() any { return &UnpausePayload{} },
	TypeBreakStart:          func() any { return &BreakStartPayload{} },
	TypeBreakEnd:            func() any { return &BreakEndPayload{} },
	TypeWhiteboardUpdate:    func() any { return &WhiteboardUpdatePayload{} },
	TypeDrawingState:        func() any { return &DrawingStatePayload{} },
	TypeMuteParticipant:     func() any { return &MuteParticipantPayload{} },
	TypeMuteAll:             func() any { return &MuteAllPayload{} },
	TypeKickParticipant:     func() any { return &KickParticipantPayload{} },
	TypeConcentrationToggle: func() any { return &ConcentrationTogglePayload{} },
	TypeChatMessage:         func() any { return &ChatMessagePayload{} },
	TypeReactionAdd:         func() any { return &ReactionAddPayload{} },
	TypePresentationUpload:  func() any { return &PresentationUploadPayload{} },
	TypePresentationControl: func() any { return &PresentationControlPayload{} },
}

// validator is implemented by payloads with field constraints.
type validator interface {
	validate() error
}

// Decode parses raw into a Message. Unknown types return ErrUnknownType; anything else
// unparseable or invalid returns ErrMalformed.
func Decode(raw []byte) (*Message, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	newPayload, ok := payloadTypes[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	sessionID, err := uuid.Parse(env.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: sessionId: %v", ErrMalformed, err)
	}
	payload := newPayload()
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, payload); err != nil {
			return nil, fmt.Errorf("%w: %s data: %v", ErrMalformed, env.Type, err)
		}
	}
	if v, ok := payload.(validator); ok {
		if err := v.validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
		}
	}
	return &Message{Type: env.Type, SessionID: sessionID, Payload: payload}, nil
}

func (p *BreakStartPayload) validate() error {
	if p.Duration < 0 {
		return errors.New("duration must not be negative")
	}
	return nil
}

func (p *BreakEndPayload) validate() error {
	if p.ActualDuration < 0 {
		return errors.New("actualDuration must not be negative")
	}
	return nil
}

func (p *WhiteboardUpdatePayload) validate() error {
	if len(p.Content) == 0 {
		return errors.New("content is required")
	}
	return models.ValidateContent(p.Content)
}

func (p *DrawingStatePayload) validate() error {
	if p.Tool != "" && !models.ValidTool(p.Tool) {
		return fmt.Errorf("unknown tool %q", p.Tool)
	}
	return nil
}

func (p *MuteParticipantPayload) validate() error {
	if p.UserID == uuid.Nil {
		return errors.New("userId is required")
	}
	return nil
}

func (p *KickParticipantPayload) validate() error {
	if p.UserID == uuid.Nil {
		return errors.New("userId is required")
	}
	return nil
}

func (p *ChatMessagePayload) validate() error {
	p.Content = strings.TrimSpace(p.Content)
	if p.Content == "" {
		return errors.New("content is required")
	}
	if utf8.RuneCountInString(p.Content) > maxChatRunes {
		return fmt.Errorf("content exceeds %d characters", maxChatRunes)
	}
	return nil
}

func (p *ReactionAddPayload) validate() error {
	if p.Emoji == "" || utf8.RuneCountInString(p.Emoji) > maxEmojiRunes {
		return errors.New("emoji is required")
	}
	return nil
}

func (p *PresentationUploadPayload) validate() error {
	if p.FileName == "" || p.FileURL == "" {
		return errors.New("fileName and fileUrl are required")
	}
	if utf8.RuneCountInString(p.FileName) > maxFileNameRunes {
		return errors.New("fileName too long")
	}
	return nil
}

func (p *PresentationControlPayload) validate() error {
	if p.PresentationID == uuid.Nil {
		return errors.New("presentationId is required")
	}
	switch p.Action {
	case ActionSetPage:
		if p.Page < 1 {
			return errors.New("page must be at least 1")
		}
	case ActionActivate, ActionDeactivate:
	case ActionGrantEdit, ActionRevokeEdit:
		if p.UserID == uuid.Nil {
			return errors.New("userId is required")
		}
	default:
		return fmt.Errorf("unknown action %q", p.Action)
	}
	return nil
}
