package redis

import (
	"encoding/json"
	"fmt"
	"time"

	"resourcewatch/internal/storage"
)

type entryRecord struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Description string    `json:"description,omitempty"`
	Content     string    `json:"content,omitempty"`
	Author      string    `json:"author,omitempty"`
	Source      string    `json:"source,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	CreatedAt   time.Time `json:"created_at"`
}

func encodeEntry(e storage.FeedEntry) ([]byte, error) {
	data, err := json.Marshal(entryRecord(e))
	if err != nil {
		return nil, fmt.Errorf("failed to encode feed entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (storage.FeedEntry, error) {
	var rec entryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return storage.FeedEntry{}, fmt.Errorf("failed to decode feed entry: %w", err)
	}
	return storage.FeedEntry(rec), nil
}
