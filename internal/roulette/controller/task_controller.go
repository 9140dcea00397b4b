package controller

import (
	"maproulette/internal/common/http/middleware"
	"maproulette/internal/roulette/service"
	"maproulette/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
)

// TaskController hands out tasks and records editor actions.
type TaskController struct {
	taskService *service.TaskService
	nearBuffer  float64
}

// NewTaskController creates a TaskController. nearBuffer is the radius used when a
// near request names none; zero falls back to the geo default.
func NewTaskController(taskService *service.TaskService, nearBuffer float64) *TaskController {
	return &TaskController{taskService: taskService, nearBuffer: nearBuffer}
}

// Next handles GET /challenges/:slug/tasks, the random pick.
func (h *TaskController) Next(c *gin.Context) {
	near, err := parseCircle(c, "near", "radius", h.nearBuffer)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	area, err := parseCircle(c, "area", "", 0)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	task, err := h.taskService.GetTask(c.Request.Context(), service.GetTaskInput{
		ChallengeSlug: c.Param("slug"),
		Near:          near,
		Area:          area,
		Assign:        queryBool(c, "assign"),
		UserID:        middleware.UserID(c),
		Editor:        c.Query("editor"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, newTaskResponse(task))
}

// Get handles GET /challenges/:slug/tasks/:identifier.
func (h *TaskController) Get(c *gin.Context) {
	task, err := h.taskService.GetTaskByIdentifier(c.Request.Context(),
		c.Param("slug"), c.Param("identifier"),
		queryBool(c, "assign"), middleware.UserID(c), c.Query("editor"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, newTaskResponse(task))
}

func (h *TaskController) SubmitAction(c *gin.Context) {
	var req SubmitActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	actions, err := h.taskService.SubmitAction(c.Request.Context(), service.SubmitActionInput{
		ChallengeSlug: c.Param("slug"),
		Identifier:    c.Param("identifier"),
		Status:        req.Status,
		UserID:        middleware.UserID(c),
		Editor:        req.Editor,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, actions)
}

func (h *TaskController) ListActions(c *gin.Context) {
	actions, err := h.taskService.ListActions(c.Request.Context(), c.Param("slug"), c.Param("identifier"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, actions)
}

// Put handles the admin task upsert.
func (h *TaskController) Put(c *gin.Context) {
	var req UpsertTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	in := service.UpsertTaskInput{
		ChallengeSlug: c.Param("slug"),
		Identifier:    c.Param("identifier"),
		Geometries:    req.Geometries,
		Instruction:   req.Instruction,
		Status:        req.Status,
	}
	if req.Location != nil {
		in.Location = &orb.Point{req.Location[0], req.Location[1]}
	}

	task, created, err := h.taskService.AdminUpsertTask(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("X-Created", boolHeader(created))
	response.Success(c, newTaskResponse(task))
}

// Delete marks the task deleted; ?purge=1 also removes its rows.
func (h *TaskController) Delete(c *gin.Context) {
	err := h.taskService.AdminDeleteTask(c.Request.Context(), c.Param("slug"), c.Param("identifier"), queryBool(c, "purge"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "Delete success", nil)
}

func boolHeader(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
