package controller

import (
	"maproulette/internal/roulette/repository"
	"maproulette/internal/roulette/service"
	"maproulette/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// StatsController serves challenge statistics.
type StatsController struct {
	statsService *service.StatsService
}

// NewStatsController creates a new StatsController.
func NewStatsController(statsService *service.StatsService) *StatsController {
	return &StatsController{statsService: statsService}
}

// Summary handles GET /challenges/:slug/stats.
func (h *StatsController) Summary(c *gin.Context) {
	stats, err := h.statsService.GetChallengeStats(c.Request.Context(), c.Param("slug"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}

func (h *StatsController) Status(c *gin.Context) {
	filter, ok := statsFilter(c)
	if !ok {
		return
	}
	counts, err := h.statsService.StatusCounts(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, counts)
}

func (h *StatsController) Daily(c *gin.Context) {
	filter, ok := statsFilter(c)
	if !ok {
		return
	}
	from, err := parseTime(c.Query("from"))
	if err != nil {
		response.BadRequest(c, "Invalid from")
		return
	}
	to, err := parseTime(c.Query("to"))
	if err != nil {
		response.BadRequest(c, "Invalid to")
		return
	}
	counts, err := h.statsService.DailyStatusCounts(c.Request.Context(), filter, from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, counts)
}

func (h *StatsController) Users(c *gin.Context) {
	from, err := parseTime(c.Query("from"))
	if err != nil {
		response.BadRequest(c, "Invalid from")
		return
	}
	to, err := parseTime(c.Query("to"))
	if err != nil {
		response.BadRequest(c, "Invalid to")
		return
	}
	counts, err := h.statsService.UserActionCounts(c.Request.Context(), c.Query("challenge"), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, counts)
}

func statsFilter(c *gin.Context) (repository.StatsFilter, bool) {
	userID, err := parseOptionalInt(c.Query("user"))
	if err != nil {
		response.BadRequest(c, "Invalid user")
		return repository.StatsFilter{}, false
	}
	return repository.StatsFilter{ChallengeSlug: c.Query("challenge"), UserID: userID}, true
}
