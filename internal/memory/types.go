package memory

import (
	"strings"
	"time"
)

// Emotion is the emotional tag attached to a memory. The zero value means unspecified.
type Emotion string

const (
	EmotionHappy     Emotion = "happy"
	EmotionSad       Emotion = "sad"
	EmotionSurprised Emotion = "surprised"
	EmotionMoved     Emotion = "moved"
	EmotionExcited   Emotion = "excited"
	EmotionNostalgic Emotion = "nostalgic"
	EmotionCurious   Emotion = "curious"
	EmotionNeutral   Emotion = "neutral"
)

// Emotions lists every valid emotion in a stable order.
var Emotions = []Emotion{
	EmotionHappy, EmotionSad, EmotionSurprised, EmotionMoved,
	EmotionExcited, EmotionNostalgic, EmotionCurious, EmotionNeutral,
}

// Category classifies what a memory is about. The zero value means unspecified.
type Category string

const (
	CategoryDaily         Category = "daily"
	CategoryPhilosophical Category = "philosophical"
	CategoryTechnical     Category = "technical"
	CategoryMemory        Category = "memory"
	CategoryObservation   Category = "observation"
	CategoryFeeling       Category = "feeling"
	CategoryConversation  Category = "conversation"
	CategoryAction        Category = "action"
)

// Categories lists every valid category in a stable order.
var Categories = []Category{
	CategoryDaily, CategoryPhilosophical, CategoryTechnical, CategoryMemory,
	CategoryObservation, CategoryFeeling, CategoryConversation, CategoryAction,
}

// LinkType is the relation a directed edge expresses.
type LinkType string

const (
	LinkSimilar  LinkType = "similar"
	LinkCausedBy LinkType = "caused_by"
	LinkLeadsTo  LinkType = "leads_to"
	LinkRelated  LinkType = "related"
)

// LinkTypes lists every valid link type.
var LinkTypes = []LinkType{LinkSimilar, LinkCausedBy, LinkLeadsTo, LinkRelated}

// symmetric reports whether the relation reads the same in both directions.
func (t LinkType) symmetric() bool {
	return t == LinkSimilar || t == LinkRelated
}

// Direction selects which way a causal chain is walked.
type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
)

const (
	MinImportance     = 1
	MaxImportance     = 5
	DefaultImportance = 3

	MinChainDepth = 1
	MaxChainDepth = 5

	unspecified = "unspecified"
)

// ParseEmotion maps a client-supplied string onto the closed emotion set.
// The empty string is accepted and means unspecified.
func ParseEmotion(s string) (Emotion, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", nil
	}
	for _, e := range Emotions {
		if string(e) == s {
			return e, nil
		}
	}
	return "", validationf("unknown emotion %q", s)
}

// ParseCategory maps a client-supplied string onto the closed category set.
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", nil
	}
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", validationf("unknown category %q", s)
}

// ParseLinkType maps a client-supplied string onto the closed link-type set.
// The empty string is accepted and leaves the choice of default to the caller.
func ParseLinkType(s string) (LinkType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", nil
	}
	for _, t := range LinkTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", validationf("unknown link type %q", s)
}

// ParseDirection accepts "forward" or "backward"; empty means backward.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case "", Backward:
		return Backward, nil
	case Forward:
		return Forward, nil
	}
	return "", validationf("unknown direction %q", s)
}

// CameraPose records where the camera was pointing, in degrees.
type CameraPose struct {
	Pan      float64 `json:"pan"`
	Tilt     float64 `json:"tilt"`
	PresetID string  `json:"preset_id,omitempty"`
}

// Sensory holds optional attachments captured with a memory.
type Sensory struct {
	ImageRef   string      `json:"image_ref,omitempty"`
	AudioRef   string      `json:"audio_ref,omitempty"`
	Transcript string      `json:"transcript,omitempty"`
	Camera     *CameraPose `json:"camera,omitempty"`
}

func (s *Sensory) empty() bool {
	return s == nil || (s.ImageRef == "" && s.AudioRef == "" && s.Transcript == "" && s.Camera == nil)
}

// Memory is an immutable recorded experience.
type Memory struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Emotion    Emotion   `json:"emotion,omitempty"`
	Category   Category  `json:"category,omitempty"`
	Importance int       `json:"importance"`
	Tags       []string  `json:"tags,omitempty"`
	Sensory    *Sensory  `json:"sensory,omitempty"`
	EpisodeID  string    `json:"episode_id,omitempty"` // latest episode it was grouped into
	CreatedAt  time.Time `json:"created_at"`
	Embedding  []float32 `json:"-"`
}

// Link is a directed, typed edge between two memories.
type Link struct {
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	Type      LinkType  `json:"link_type"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Episode groups memories into a narrative unit.
type Episode struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MemoryIDs    []string  `json:"memory_ids"`
	Participants []string  `json:"participants,omitempty"`
	Summary      string    `json:"summary,omitempty"`
	Emotion      Emotion   `json:"emotion,omitempty"`
	Importance   int       `json:"importance"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	CreatedAt    time.Time `json:"created_at"`
}

// SearchFilter narrows a similarity search. Zero values match everything.
type SearchFilter struct {
	Emotion  Emotion
	Category Category
	From     time.Time
	To       time.Time
}

// ParseDate accepts an RFC 3339 timestamp or a plain YYYY-MM-DD date. A plain
// date parsed as an upper bound covers the whole day. Empty input yields the
// zero time.
func ParseDate(v string, endOfDay bool) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, validationf("date %q is neither RFC 3339 nor YYYY-MM-DD", v)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// SearchHit is a memory with its distance to the query.
type SearchHit struct {
	Memory   Memory  `json:"memory"`
	Distance float64 `json:"distance"`
}

// Stats summarizes the store.
type Stats struct {
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"by_category"`
	ByEmotion  map[string]int `json:"by_emotion"`
	Oldest     *time.Time     `json:"oldest,omitempty"`
	Newest     *time.Time     `json:"newest,omitempty"`
}
