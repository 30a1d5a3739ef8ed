package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records battle faults and notable player actions.
type AuditLog struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID   string         `gorm:"index:idx_audit_trace;size:36;not null" json:"trace_id"`
	BattleID  string         `gorm:"index:idx_audit_battle;size:36" json:"battle_id"`
	Owner     string         `gorm:"size:64" json:"owner"`
	Action    string         `gorm:"size:64;not null" json:"action"`
	Turn      int            `json:"turn"`
	Detail    datatypes.JSON `json:"detail"`
	Error     string         `gorm:"type:text" json:"error"`
	Stack     string         `gorm:"type:text" json:"stack"`
	CreatedAt time.Time      `gorm:"index:idx_audit_created;autoCreateTime:milli" json:"created_at"`
}
