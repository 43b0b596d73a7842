package domain

import "time"

// Reflection types a learner can choose.
const (
	ReflectionText   = "text"
	ReflectionVoice  = "voice"
	ReflectionScreen = "screen"
	ReflectionLoom   = "loom"
)

// Reflection is a saved learner reflection on a moment of a video.
type Reflection struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	SessionID      string    `json:"session_id"`
	VideoID        string    `json:"video_id"`
	CourseID       string    `json:"course_id,omitempty"`
	VideoTimestamp float64   `json:"video_timestamp"`
	Type           string    `json:"type"`
	TextContent    string    `json:"text_content,omitempty"`
	LoomLink       string    `json:"loom_link,omitempty"`
	MediaURL       string    `json:"media_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ValidReflectionType reports whether t is a known reflection type.
func ValidReflectionType(t string) bool {
	switch t {
	case ReflectionText, ReflectionVoice, ReflectionScreen, ReflectionLoom:
		return true
	}
	return false
}
