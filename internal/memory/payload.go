package memory

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yoshihito-tsuji/ClaudeMCP/internal/vectorstore"
)

// Payload keys stored next to each vector. The index only understands flat
// string maps, so structured fields are JSON-encoded.
const (
	keyEmotion    = "emotion"
	keyCategory   = "category"
	keyImportance = "importance"
	keyCreatedAt  = "created_at"
	keyTags       = "tags"
	keySensory    = "sensory"
	keyHasCamera  = "has_camera"
	keyEpisodeID  = "episode_id"

	keyTitle        = "title"
	keyMemoryIDs    = "memory_ids"
	keyParticipants = "participants"
	keySummary      = "summary"
	keyStartTime    = "start_time"
	keyEndTime      = "end_time"
)

func encodeMemory(m Memory) map[string]string {
	p := map[string]string{
		vectorstore.ContentKey: m.Content,
		keyImportance:          strconv.Itoa(m.Importance),
		keyCreatedAt:           m.CreatedAt.Format(time.RFC3339Nano),
	}
	if m.Emotion != "" {
		p[keyEmotion] = string(m.Emotion)
	}
	if m.Category != "" {
		p[keyCategory] = string(m.Category)
	}
	if len(m.Tags) > 0 {
		b, _ := json.Marshal(m.Tags)
		p[keyTags] = string(b)
	}
	if m.EpisodeID != "" {
		p[keyEpisodeID] = m.EpisodeID
	}
	if !m.Sensory.empty() {
		b, _ := json.Marshal(m.Sensory)
		p[keySensory] = string(b)
		if m.Sensory.Camera != nil {
			p[keyHasCamera] = "true"
		}
	}
	return p
}

func decodeMemory(id string, p map[string]string, vector []float32) (Memory, error) {
	m := Memory{
		ID:        id,
		Content:   p[vectorstore.ContentKey],
		Emotion:   Emotion(p[keyEmotion]),
		Category:  Category(p[keyCategory]),
		EpisodeID: p[keyEpisodeID],
		Embedding: vector,
	}
	imp, err := strconv.Atoi(p[keyImportance])
	if err != nil {
		return Memory{}, fmt.Errorf("decode memory %s: importance: %w", id, err)
	}
	m.Importance = imp
	if m.CreatedAt, err = time.Parse(time.RFC3339Nano, p[keyCreatedAt]); err != nil {
		return Memory{}, fmt.Errorf("decode memory %s: created_at: %w", id, err)
	}
	if raw := p[keyTags]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &m.Tags); err != nil {
			return Memory{}, fmt.Errorf("decode memory %s: tags: %w", id, err)
		}
	}
	if raw := p[keySensory]; raw != "" {
		m.Sensory = &Sensory{}
		if err := json.Unmarshal([]byte(raw), m.Sensory); err != nil {
			return Memory{}, fmt.Errorf("decode memory %s: sensory: %w", id, err)
		}
	}
	return m, nil
}

func encodeEpisode(e Episode) map[string]string {
	ids, _ := json.Marshal(e.MemoryIDs)
	p := map[string]string{
		vectorstore.ContentKey: episodeText(e.Title, e.Summary, nil),
		keyTitle:               e.Title,
		keyMemoryIDs:           string(ids),
		keyImportance:          strconv.Itoa(e.Importance),
		keyStartTime:           e.StartTime.Format(time.RFC3339Nano),
		keyEndTime:             e.EndTime.Format(time.RFC3339Nano),
		keyCreatedAt:           e.CreatedAt.Format(time.RFC3339Nano),
	}
	if len(e.Participants) > 0 {
		b, _ := json.Marshal(e.Participants)
		p[keyParticipants] = string(b)
	}
	if e.Summary != "" {
		p[keySummary] = e.Summary
	}
	if e.Emotion != "" {
		p[keyEmotion] = string(e.Emotion)
	}
	return p
}

func decodeEpisode(id string, p map[string]string) (Episode, error) {
	e := Episode{
		ID:      id,
		Title:   p[keyTitle],
		Summary: p[keySummary],
		Emotion: Emotion(p[keyEmotion]),
	}
	if err := json.Unmarshal([]byte(p[keyMemoryIDs]), &e.MemoryIDs); err != nil {
		return Episode{}, fmt.Errorf("decode episode %s: memory_ids: %w", id, err)
	}
	if raw := p[keyParticipants]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &e.Participants); err != nil {
			return Episode{}, fmt.Errorf("decode episode %s: participants: %w", id, err)
		}
	}
	e.Importance, _ = strconv.Atoi(p[keyImportance])
	var err error
	for key, dst := range map[string]*time.Time{
		keyStartTime: &e.StartTime,
		keyEndTime:   &e.EndTime,
		keyCreatedAt: &e.CreatedAt,
	} {
		if *dst, err = time.Parse(time.RFC3339Nano, p[key]); err != nil {
			return Episode{}, fmt.Errorf("decode episode %s: %s: %w", id, key, err)
		}
	}
	return e, nil
}

// episodeText is what gets embedded for an episode: its title and summary, or
// the member contents when there is no summary to stand for them.
func episodeText(title, summary string, contents []string) string {
	parts := []string{title}
	if summary != "" {
		parts = append(parts, summary)
	} else {
		parts = append(parts, contents...)
	}
	return strings.Join(parts, "\n")
}
