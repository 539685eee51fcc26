package model

import (
	"encoding/json"
	"time"
)

// Profile is a saved intake form, reused to prefill the next letter.
type Profile struct {
	Email     string          `json:"email"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}
