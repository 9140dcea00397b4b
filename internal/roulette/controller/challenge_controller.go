package controller

import (
	"strconv"

	"maproulette/internal/roulette/model"
	"maproulette/internal/roulette/service"
	"maproulette/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ChallengeController serves challenge listing and administration.
type ChallengeController struct {
	challengeService *service.ChallengeService
}

// NewChallengeController creates a new ChallengeController.
func NewChallengeController(challengeService *service.ChallengeService) *ChallengeController {
	return &ChallengeController{challengeService: challengeService}
}

// List handles GET /challenges?difficulty=&contains=lon|lat.
func (h *ChallengeController) List(c *gin.Context) {
	var in service.ListChallengesInput
	if raw := c.Query("difficulty"); raw != "" {
		difficulty, err := strconv.Atoi(raw)
		if err != nil {
			response.BadRequest(c, "Invalid difficulty")
			return
		}
		in.Difficulty = difficulty
	}
	point, err := parsePoint(c.Query("contains"))
	if err != nil {
		response.BadRequest(c, "Invalid contains point: "+err.Error())
		return
	}
	in.Contains = point

	challenges, err := h.challengeService.ListChallenges(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, challenges)
}

func (h *ChallengeController) Get(c *gin.Context) {
	view, err := h.challengeService.GetChallenge(c.Request.Context(), c.Param("slug"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

// Put handles admin challenge creation and update. The path slug wins over the body.
func (h *ChallengeController) Put(c *gin.Context) {
	var challenge model.Challenge
	if err := c.ShouldBindJSON(&challenge); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	challenge.Slug = c.Param("slug")

	created, err := h.challengeService.AdminUpsertChallenge(c.Request.Context(), &challenge)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, UpsertResponse{Created: created})
}

func (h *ChallengeController) Delete(c *gin.Context) {
	if err := h.challengeService.AdminDeleteChallenge(c.Request.Context(), c.Param("slug")); err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "Delete success", nil)
}
