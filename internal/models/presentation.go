package models

import (
	"time"

	"github.com/google/uuid"
)

// Presentation is a slide deck or document shown in a session.
type Presentation struct {
	ID          uuid.UUID `json:"id"`
	SessionID   uuid.UUID `json:"sessionId"`
	UploadedBy  uuid.UUID `json:"uploadedBy"`
	FileName    string    `json:"fileName"`
	FileURL     string    `json:"fileUrl"`
	FileType    string    `json:"fileType"`
	CurrentPage int       `json:"currentPage"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PresentationEditor grants userID edit rights on a presentation beyond the uploader and host.
type PresentationEditor struct {
	PresentationID uuid.UUID `json:"presentationId"`
	UserID         uuid.UUID `json:"userId"`
	GrantedAt      time.Time `json:"grantedAt"`
}
