package common

import (
	"github.com/google/uuid"
)

// NewConversationID generates a unique conversation ID with the "conv_" prefix
// Format: conv_<uuid>
func NewConversationID() string {
	return "conv_" + uuid.New().String()
}

// NewDocumentID generates a unique document ID with the "doc_" prefix
// Format: doc_<uuid>
func NewDocumentID() string {
	return "doc_" + uuid.New().String()
}
