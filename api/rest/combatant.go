package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/arcanabattle/audit"
	"github.com/kasuganosora/arcanabattle/game/battle"
	"github.com/kasuganosora/arcanabattle/game/roster"
	mw "github.com/kasuganosora/arcanabattle/middleware"
	"go.uber.org/zap"
)

const (
	maxHistory = 100

	starterStat       = 5
	starterStatPoints = 10
)

// CombatantHandler exposes the caller's persisted combatant. Edits take the
// same checkout lease a battle does, so a combatant cannot be changed while
// it is fighting.
type CombatantHandler struct {
	store  *roster.Store
	audit  *audit.Service
	logger *zap.Logger
}

// NewCombatantHandler creates a new CombatantHandler. audit may be nil.
func NewCombatantHandler(store *roster.Store, svc *audit.Service, logger *zap.Logger) *CombatantHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CombatantHandler{store: store, audit: svc, logger: logger}
}

type combatantView struct {
	*battle.Record
	Level     int `json:"level"`
	ExpToNext int `json:"exp_to_next"`
	MaxHP     int `json:"max_hp"`
	MaxSP     int `json:"max_sp"`
}

func (h *CombatantHandler) view(rec *battle.Record) (*combatantView, error) {
	c, err := battle.NewCombatantFromRecord(rec, h.store.Catalog())
	if err != nil {
		return nil, err
	}
	return &combatantView{
		Record:    rec,
		Level:     c.Level(),
		ExpToNext: c.ExpToNextLevel(),
		MaxHP:     c.MaxHP(),
		MaxSP:     c.MaxSP(),
	}, nil
}

// Get handles GET /api/combatant.
func (h *CombatantHandler) Get(c *gin.Context) {
	rec, err := h.store.Load(c.Request.Context(), mw.GetOwner(c))
	if errors.Is(err, roster.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no combatant"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	v, err := h.view(rec)
	if err != nil {
		h.logger.Error("stored combatant is invalid", zap.String("owner", rec.Owner), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, v)
}

type createRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=32"`
	Arcana      string `json:"arcana" binding:"max=32"`
	Specialty   string `json:"specialty"`
	Description string `json:"description" binding:"max=256"`
}

// Create handles POST /api/combatant. A new combatant knows only the basic
// attack and has unspent stat points to allocate.
func (h *CombatantHandler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Specialty != "" {
		if _, err := battle.ParseSkillType(req.Specialty); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	rec := &battle.Record{
		Owner:       mw.GetOwner(c),
		Name:        req.Name,
		Skills:      []string{h.store.Catalog().BasicAttack().Name},
		Stats:       [5]int{starterStat, starterStat, starterStat, starterStat, starterStat},
		Resistances: map[string]string{},
		Arcana:      req.Arcana,
		Specialty:   req.Specialty,
		StatPoints:  starterStatPoints,
		Description: req.Description,
	}
	err := h.store.Create(c.Request.Context(), rec)
	if errors.Is(err, roster.ErrExists) {
		c.JSON(http.StatusConflict, gin.H{"error": "combatant already exists"})
		return
	}
	if err != nil {
		h.logger.Error("create combatant failed", zap.String("owner", rec.Owner), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	v, err := h.view(rec)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, v)
}

type equipRequest struct {
	Equip   []string `json:"equip"`
	Unequip []string `json:"unequip"`
}

// Equip handles PUT /api/combatant/equip. Unequips are applied before
// equips so a full loadout can swap skills in one request.
func (h *CombatantHandler) Equip(c *gin.Context) {
	var req equipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Equip) == 0 && len(req.Unequip) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to change"})
		return
	}
	h.edit(c, func(rec *battle.Record) error {
		for _, n := range req.Unequip {
			if err := rec.Unequip(n); err != nil {
				return err
			}
		}
		for _, n := range req.Equip {
			if err := rec.Equip(n); err != nil {
				return err
			}
		}
		return nil
	}, func(owner string) {
		if len(req.Unequip) > 0 {
			h.log(c, owner, audit.ActionUnequip, req.Unequip)
		}
		if len(req.Equip) > 0 {
			h.log(c, owner, audit.ActionEquip, req.Equip)
		}
	})
}

type allocateRequest struct {
	Stat   string `json:"stat" binding:"required"`
	Points int    `json:"points" binding:"required,min=1"`
}

// Allocate handles PUT /api/combatant/stats.
func (h *CombatantHandler) Allocate(c *gin.Context) {
	var req allocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stat, err := battle.ParseStat(req.Stat)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.edit(c, func(rec *battle.Record) error {
		return rec.AllocateStat(stat, req.Points)
	}, func(owner string) {
		h.log(c, owner, audit.ActionAllocate, req)
	})
}

// edit runs fn on the caller's record under a checkout lease and saves it.
func (h *CombatantHandler) edit(c *gin.Context, fn func(*battle.Record) error, done func(owner string)) {
	ctx := c.Request.Context()
	owner := mw.GetOwner(c)

	lease, _, err := h.store.Checkout(ctx, owner)
	switch {
	case errors.Is(err, roster.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no combatant"})
		return
	case errors.Is(err, roster.ErrCheckedOut):
		c.JSON(http.StatusConflict, gin.H{"error": "combatant is in a battle"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	defer func() {
		// Release on a fresh context: the request may already be cancelled.
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			h.logger.Warn("release checkout failed", zap.String("owner", owner), zap.Error(err))
		}
	}()

	rec, err := h.store.Load(ctx, owner)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if err := fn(rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.Save(ctx, rec); err != nil {
		h.logger.Error("save combatant failed", zap.String("owner", owner), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}
	done(owner)

	v, err := h.view(rec)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *CombatantHandler) log(c *gin.Context, owner, action string, detail interface{}) {
	if h.audit == nil {
		return
	}
	h.audit.Log(audit.AuditEntry{
		TraceID: mw.GetTraceID(c),
		Owner:   owner,
		Action:  action,
		Detail:  detail,
	})
}

// Recent handles GET /api/battles/recent. With ?limit=N it reads the full
// history from the database instead of the cached recent list.
func (h *CombatantHandler) Recent(c *gin.Context) {
	owner := mw.GetOwner(c)
	if q := c.Query("limit"); q != "" {
		limit, err := strconv.Atoi(q)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		if limit > maxHistory {
			limit = maxHistory
		}
		rows, err := h.store.History(c.Request.Context(), owner, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"battles": rows, "count": len(rows)})
		return
	}
	list, err := h.store.Recent(c.Request.Context(), owner)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"battles": list, "count": len(list)})
}
