package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// TurnReplay ties an Idempotency-Key sent with a non-streamed message POST to
// the chat turn that answered it. Keys are scoped to (user, room). The
// message hash stops a reused key from replaying a turn for a different
// question.
type TurnReplay struct {
	ID          string    `gorm:"type:TEXT;primaryKey"`
	UserID      string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_replay_scope,priority:1"`
	RoomID      string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_replay_scope,priority:2"`
	Key         string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_replay_scope,priority:3"`
	MessageHash string    `gorm:"type:TEXT NOT NULL"`
	HistoryID   uint      `gorm:"not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	ExpiresAt   time.Time `gorm:"not null;index"`
}

func (TurnReplay) TableName() string { return "turn_replays" }

// HashMessage fingerprints a normalized user message.
func HashMessage(msg string) string {
	sum := sha256.Sum256([]byte(msg))
	return hex.EncodeToString(sum[:])
}
