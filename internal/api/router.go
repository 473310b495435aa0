package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// Handlers groups the REST handlers mounted under /api.
type Handlers struct {
	Conversations *ConversationHandler
	Bookings      *BookingHandler
	Tasks         *TaskHandler
	Escalations   *EscalationHandler
	Schedule      *ScheduleHandler
	Alerts        *AlertHandler
}

// CORS allows the dashboard to call the API from another origin.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	logger = orDefault(logger)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelDebug
		if c.Writer.Status() >= 500 {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// Register mounts every API route on r.
func Register(r gin.IRouter, h Handlers) {
	apiGroup := r.Group("/api")

	conv := apiGroup.Group("/conversations")
	{
		conv.GET("", h.Conversations.GetConversations)
		conv.GET("/history", h.Conversations.GetHistory)
		conv.POST("/:id/messages", h.Conversations.SendMessage)
		conv.POST("/:id/link", h.Conversations.LinkBooking)
		conv.POST("/:id/auto-response", h.Conversations.SetAutoResponse)
	}

	apiGroup.PUT("/bookings/:id", h.Bookings.PutBooking)
	apiGroup.GET("/bookings/:id", h.Bookings.GetBooking)

	tasks := apiGroup.Group("/tasks")
	{
		tasks.GET("", h.Tasks.GetTasks)
		tasks.POST("", h.Tasks.CreateTask)
		tasks.GET("/:id", h.Tasks.GetTask)
		tasks.PUT("/:id", h.Tasks.UpdateTask)
		tasks.DELETE("/:id", h.Tasks.DeleteTask)
		tasks.POST("/:id/assign", h.Tasks.AssignTask)
		tasks.POST("/:id/start", h.Tasks.StartTask)
		tasks.POST("/:id/complete", h.Tasks.CompleteTask)
		tasks.POST("/:id/escalate", h.Tasks.EscalateTask)
	}

	esc := apiGroup.Group("/escalations")
	{
		esc.GET("", h.Escalations.GetEscalations)
		esc.GET("/:id", h.Escalations.GetEscalation)
		esc.POST("/:id/acknowledge", h.Escalations.Acknowledge)
		esc.POST("/:id/start", h.Escalations.Start)
		esc.POST("/:id/resolve", h.Escalations.Resolve)
	}

	sched := apiGroup.Group("/schedule")
	{
		sched.GET("/templates", h.Schedule.GetTemplates)
		sched.POST("/templates", h.Schedule.CreateTemplate)
		sched.PUT("/templates/:id", h.Schedule.UpdateTemplate)
		sched.DELETE("/templates/:id", h.Schedule.DeleteTemplate)
		sched.GET("/channel-templates", h.Schedule.GetChannelTemplates)

		sched.GET("/rules", h.Schedule.GetRules)
		sched.POST("/rules", h.Schedule.CreateRule)
		sched.PUT("/rules/:id", h.Schedule.UpdateRule)
		sched.DELETE("/rules/:id", h.Schedule.DeleteRule)

		sched.GET("/messages", h.Schedule.GetMessages)
		sched.POST("/messages/:id/cancel", h.Schedule.CancelMessage)
		sched.POST("/process-now", h.Schedule.ProcessNow)
		sched.POST("/retry-failed", h.Schedule.RetryFailed)
		sched.GET("/stats", h.Schedule.GetStats)
	}

	apiGroup.GET("/alerts", h.Alerts.GetAlerts)
	apiGroup.GET("/ws", h.Alerts.ServeWs)
}
