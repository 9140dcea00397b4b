package controller

import (
	"maproulette/internal/common/http/middleware"
	"maproulette/internal/common/metrics"
	"maproulette/internal/roulette/service"
	"maproulette/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// AdminRole is the token role allowed on /admin routes.
const AdminRole = "admin"

// Routes carries the handlers' dependencies. Sweeper and Metrics are optional.
type Routes struct {
	Challenges *service.ChallengeService
	Tasks      *service.TaskService
	Stats      *service.StatsService
	Sweeper    *service.Sweeper
	Metrics    *metrics.Metrics

	// NearBuffer is the default near-me radius in degrees.
	NearBuffer float64

	Verifier *middleware.TokenVerifier
	// TrustUserHeader takes anonymous identities from X-User-Id.
	TrustUserHeader bool
}

// Register mounts the public and admin API on router.
func Register(router *gin.Engine, r Routes) {
	challengeController := NewChallengeController(r.Challenges)
	taskController := NewTaskController(r.Tasks, r.NearBuffer)
	statsController := NewStatsController(r.Stats)

	api := router.Group("/api/v1")
	api.GET("/ping", func(c *gin.Context) {
		response.Success(c, gin.H{"pong": true})
	})

	public := api.Group("", middleware.AuthMiddleware(r.Verifier, middleware.AuthPolicy{
		Mode:            middleware.AuthModeOptional,
		TrustUserHeader: r.TrustUserHeader,
	}))
	public.GET("/challenges", challengeController.List)
	public.GET("/challenges/:slug", challengeController.Get)
	public.GET("/challenges/:slug/stats", statsController.Summary)
	public.GET("/challenges/:slug/tasks", taskController.Next)
	public.GET("/challenges/:slug/tasks/:identifier", taskController.Get)
	public.GET("/challenges/:slug/tasks/:identifier/actions", taskController.ListActions)
	public.POST("/challenges/:slug/tasks/:identifier/actions", taskController.SubmitAction)
	public.GET("/stats/status", statsController.Status)
	public.GET("/stats/daily", statsController.Daily)
	public.GET("/stats/users", statsController.Users)

	admin := api.Group("/admin", middleware.AuthMiddleware(r.Verifier, middleware.AuthPolicy{
		Mode:  middleware.AuthModeRequired,
		Roles: []string{AdminRole},
	}))
	admin.PUT("/challenges/:slug", challengeController.Put)
	admin.DELETE("/challenges/:slug", challengeController.Delete)
	admin.PUT("/challenges/:slug/tasks/:identifier", taskController.Put)
	admin.DELETE("/challenges/:slug/tasks/:identifier", taskController.Delete)
	if r.Sweeper != nil {
		admin.POST("/sweep", NewSweepController(r.Sweeper).Run)
	}

	if r.Metrics != nil {
		router.GET("/metrics", gin.WrapH(r.Metrics.Handler()))
	}
}
