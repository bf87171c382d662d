package queue

import (
	"fmt"
	"strings"
	"time"
)

// Message is a unit of work in the queue
type Message struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Key        string                 `json:"key,omitempty"`
	Data       map[string]interface{} `json:"data"`
	CreatedAt  time.Time              `json:"created_at"`
	Attempts   int                    `json:"attempts"`
	MaxRetries int                    `json:"max_retries"`
}

// Validate checks if the message is valid
func (m *Message) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("message ID is required")
	}
	if strings.TrimSpace(m.Type) == "" {
		return fmt.Errorf("message type is required")
	}
	if m.Data == nil {
		m.Data = make(map[string]interface{})
	}
	return nil
}

// GetString returns a string value from message data
func (m *Message) GetString(key string) string {
	if val, ok := m.Data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetInt64 returns an integer value from message data. JSON numbers decode
// as float64.
func (m *Message) GetInt64(key string) int64 {
	if val, ok := m.Data[key]; ok {
		switch v := val.(type) {
		case int:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}
