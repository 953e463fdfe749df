package framework

import (
	"encoding/base64"
	"strings"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Image is an inline attachment sent alongside a user message.
type Image struct {
	MIMEType string
	Data     []byte
}

// Base64 returns the attachment payload without a data URL header.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURL renders the attachment as a data: URL.
func (i Image) DataURL() string {
	return "data:" + i.mime() + ";base64," + i.Base64()
}

func (i Image) mime() string {
	if i.MIMEType == "" {
		return "image/jpeg"
	}
	return i.MIMEType
}

// MIME returns the attachment content type, defaulting to JPEG.
func (i Image) MIME() string { return i.mime() }

// DecodeImage parses either raw base64 or a data URL into an Image.
func DecodeImage(encoded string) (Image, error) {
	mimeType := "image/jpeg"
	payload := strings.TrimSpace(encoded)
	if strings.HasPrefix(payload, "data:") {
		header, data, ok := strings.Cut(payload, ",")
		if ok {
			payload = data
			header = strings.TrimPrefix(header, "data:")
			if kind, _, found := strings.Cut(header, ";"); found && kind != "" {
				mimeType = kind
			}
		}
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, err
	}
	return Image{MIMEType: mimeType, Data: raw}, nil
}

// Message is one entry of the ordered conversation sent to a backend. Images
// are only set on the user message that carries an attachment.
type Message struct {
	Role    Role    `json:"role"`
	Content string  `json:"content"`
	Images  []Image `json:"-"`
}

// Interaction is a persisted chat entry. Only the most recent few are replayed
// into new conversations.
type Interaction struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}
