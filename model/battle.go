package model

import (
	"time"

	"gorm.io/datatypes"
)

// BattleRecord is the history row written when a battle ends.
type BattleRecord struct {
	ID        int64                       `gorm:"primaryKey;autoIncrement" json:"id"`
	BattleID  string                      `gorm:"uniqueIndex;size:36;not null" json:"battle_id"`
	Owner     string                      `gorm:"index:idx_battle_owner;size:64;not null" json:"owner"`
	Outcome   string                      `gorm:"size:16;not null" json:"outcome"`
	Turns     int                         `json:"turns"`
	Exp       int                         `json:"exp"`
	Credits   int                         `json:"credits"`
	Opponents datatypes.JSONSlice[string] `json:"opponents"`
	StartedAt time.Time                   `json:"started_at"`
	EndedAt   time.Time                   `gorm:"index:idx_battle_ended" json:"ended_at"`
}
