package controller

import (
	"maproulette/internal/roulette/service"
	"maproulette/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SweepController triggers an expiration sweep on demand.
type SweepController struct {
	sweeper *service.Sweeper
}

// NewSweepController creates a new SweepController.
func NewSweepController(sweeper *service.Sweeper) *SweepController {
	return &SweepController{sweeper: sweeper}
}

func (h *SweepController) Run(c *gin.Context) {
	reclaimed, err := h.sweeper.RunOnce(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, SweepResponse{Reclaimed: reclaimed})
}
