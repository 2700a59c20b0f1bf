package app

import (
	"oral_practice_backend/internal/config"
	"oral_practice_backend/internal/middleware"
	"oral_practice_backend/internal/model"
	"oral_practice_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由（无需登录）
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/register", c.auth.Register)
		public.POST("/login", c.auth.Login)
	}

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		authGroup.GET("/profile", c.auth.GetProfile)

		// 学生练习
		authGroup.GET("/questions", c.question.ListForPractice)
		authGroup.POST("/practice/sessions", c.practice.Submit)
		authGroup.GET("/practice/sessions", c.practice.List)
		authGroup.GET("/practice/sessions/:id", c.practice.GetDetail)
		authGroup.GET("/practice/sessions/:id/status", c.practice.GetStatus)
		authGroup.DELETE("/practice/data", c.practice.EraseData)

		// 题库管理（教师/管理员）
		admin := authGroup.Group("/admin")
		admin.Use(middleware.RoleMiddleware(model.Teacher, model.Admin))
		{
			admin.GET("/questions", c.question.List)
			admin.POST("/questions", c.question.Create)
			admin.PUT("/questions/:id", c.question.Update)
			admin.DELETE("/questions/:id", c.question.Delete)
		}
	}
}
