package model

import (
	"time"

	"gorm.io/datatypes"
)

// CombatantRow is the persisted record of a player's combatant. Skill
// lists, stats and resistances are stored as JSON columns.
type CombatantRow struct {
	ID          int64                                 `gorm:"primaryKey;autoIncrement" json:"id"`
	Owner       string                                `gorm:"uniqueIndex;size:64;not null" json:"owner"`
	Name        string                                `gorm:"size:32;not null" json:"name"`
	Skills      datatypes.JSONSlice[string]           `json:"skills"`
	Unequipped  datatypes.JSONSlice[string]           `json:"unequipped"`
	Exp         int64                                 `gorm:"default:0" json:"exp"`
	Stats       datatypes.JSONSlice[int]              `json:"stats"`
	Resistances datatypes.JSONType[map[string]string] `json:"resistances"`
	Arcana      string                                `gorm:"size:32" json:"arcana"`
	Specialty   string                                `gorm:"size:32" json:"specialty"`
	StatPoints  int                                   `gorm:"default:0" json:"stat_points"`
	Description string                                `gorm:"type:text" json:"description"`
	Credits     int64                                 `gorm:"default:0" json:"credits"`
	CreatedAt   time.Time                             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time                             `gorm:"autoUpdateTime" json:"updated_at"`
}
