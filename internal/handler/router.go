package handler

import (
	"github.com/gin-gonic/gin"
)

// Handlers groups the HTTP handlers mounted by Register.
type Handlers struct {
	Session *SessionHandler
	Roster  *RosterHandler
	Metrics *MetricsHandler
}

// Register mounts every route under prefix. auth guards the routes that need
// a signed-in teacher.
func Register(r *gin.Engine, prefix string, h Handlers, auth gin.HandlerFunc) {
	r.GET("/health", h.Metrics.Health)
	r.GET("/metrics", h.Metrics.Prometheus)

	api := r.Group(prefix)
	api.GET("/metrics/summary", h.Metrics.Summary)

	session := api.Group("/session")
	session.GET("", h.Session.Current)
	session.POST("/register", h.Session.Register)
	session.POST("/login", h.Session.Login)
	session.POST("/restore", h.Session.Restore)

	authed := session.Group("", auth)
	authed.POST("/profile", h.Session.CompleteProfile)
	authed.PATCH("/profile", h.Session.UpdateProfile)
	authed.PUT("/academic-year", h.Session.ChangeAcademicYear)
	authed.POST("/logout", h.Session.Logout)

	roster := api.Group("/roster", auth)
	roster.GET("", h.Roster.Snapshot)
	roster.GET("/stream", h.Roster.Stream)
	roster.GET("/stats", h.Roster.Stats)
	roster.POST("/refresh", h.Roster.Refresh)
	roster.PUT("/filter", h.Roster.SetFilter)
	roster.PUT("/sort", h.Roster.SetSort)
	roster.GET("/export", h.Roster.Export)
	roster.POST("/import", h.Roster.Import)
	roster.GET("/report", h.Roster.Report)

	students := roster.Group("/students")
	students.GET("", h.Roster.List)
	students.POST("", h.Roster.Create)
	students.DELETE("", h.Roster.ClearAll)
	students.GET("/:id", h.Roster.Get)
	students.PATCH("/:id", h.Roster.Update)
	students.DELETE("/:id", h.Roster.Delete)
	students.POST("/:id/photo", h.Roster.UploadPhoto)
}
