package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/arcanabattle/game/battle"
)

// SkillHandler serves the read-only skill catalog.
type SkillHandler struct {
	cat *battle.Catalog
}

func NewSkillHandler(cat *battle.Catalog) *SkillHandler {
	return &SkillHandler{cat: cat}
}

type skillView struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Severity string `json:"severity,omitempty"`
	Variant  string `json:"variant"`
	Passive  bool   `json:"passive"`
	Cost     int    `json:"cost"`
	Target   string `json:"target"`
	Accuracy int    `json:"accuracy,omitempty"`
	MinHits  int    `json:"min_hits,omitempty"`
	MaxHits  int    `json:"max_hits,omitempty"`
	Ailment  string `json:"ailment,omitempty"`
	Desc     string `json:"desc,omitempty"`
}

func newSkillView(s *battle.Skill) skillView {
	v := skillView{
		Name:     s.Name,
		Type:     s.Type.String(),
		Severity: s.Severity,
		Variant:  s.Variant.String(),
		Passive:  s.IsPassive(),
		Cost:     s.Cost,
		Target:   s.Target.String(),
		Accuracy: s.Accuracy,
		MinHits:  s.MinHits,
		MaxHits:  s.MaxHits,
		Desc:     s.Desc,
	}
	if s.Ailment != battle.AilmentNone {
		v.Ailment = s.Ailment.String()
	}
	return v
}

// List handles GET /api/skills.
func (h *SkillHandler) List(c *gin.Context) {
	all := h.cat.All()
	out := make([]skillView, 0, len(all))
	for _, s := range all {
		out = append(out, newSkillView(s))
	}
	c.JSON(http.StatusOK, gin.H{"skills": out, "count": len(out)})
}

// Get handles GET /api/skills/:name.
func (h *SkillHandler) Get(c *gin.Context) {
	s, err := h.cat.Lookup(c.Param("name"))
	if errors.Is(err, battle.ErrUnknownSkill) {
		c.JSON(http.StatusNotFound, gin.H{"error": "skill not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, newSkillView(s))
}
