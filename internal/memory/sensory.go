package memory

import (
	"context"
	"strings"
)

// VisualRequest records something seen through the camera.
type VisualRequest struct {
	Content    string
	ImageRef   string
	Camera     *CameraPose
	Emotion    Emotion
	Importance int
	Tags       []string
}

// AudioRequest records something heard. Content falls back to the transcript.
type AudioRequest struct {
	Content    string
	AudioRef   string
	Transcript string
	Emotion    Emotion
	Importance int
	Tags       []string
}

// InsertVisual stores an observation with its image reference and camera pose.
func (s *Store) InsertVisual(ctx context.Context, req VisualRequest) (*InsertResult, error) {
	if strings.TrimSpace(req.ImageRef) == "" {
		return nil, validationf("image reference must not be empty")
	}
	return s.Insert(ctx, InsertRequest{
		Content:    req.Content,
		Emotion:    req.Emotion,
		Category:   CategoryObservation,
		Importance: req.Importance,
		Tags:       req.Tags,
		Sensory:    &Sensory{ImageRef: req.ImageRef, Camera: req.Camera},
	})
}

// InsertAudio stores a conversation fragment with its audio reference and transcript.
func (s *Store) InsertAudio(ctx context.Context, req AudioRequest) (*InsertResult, error) {
	if strings.TrimSpace(req.AudioRef) == "" && strings.TrimSpace(req.Transcript) == "" {
		return nil, validationf("audio reference or transcript required")
	}
	content := req.Content
	if strings.TrimSpace(content) == "" {
		content = req.Transcript
	}
	return s.Insert(ctx, InsertRequest{
		Content:    content,
		Emotion:    req.Emotion,
		Category:   CategoryConversation,
		Importance: req.Importance,
		Tags:       req.Tags,
		Sensory:    &Sensory{AudioRef: req.AudioRef, Transcript: req.Transcript},
	})
}
