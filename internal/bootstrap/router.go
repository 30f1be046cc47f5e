package bootstrap

import (
	fbauth "firebase.google.com/go/v4/auth"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	httpapi "github.com/knockme-app/knockme-backend/internal/api/http"
	"github.com/knockme-app/knockme-backend/internal/api/http/middleware"
	alertshttp "github.com/knockme-app/knockme-backend/internal/alerts/http"
	"github.com/knockme-app/knockme-backend/internal/session"
)

type RouterDeps struct {
	ServiceName string
	Version     string
	Environment string
	AuthClient  *fbauth.Client
	Redis       *redis.Client
	Registry    *session.Registry
	Resume      *session.ResumeRepository
}

func BuildRouter(dep RouterDeps) *gin.Engine {
	if dep.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "X-Session-Id", "X-Request-Id")
	r.Use(cors.New(corsCfg))

	healthHandler := httpapi.NewHealthHandler(dep.ServiceName, dep.Version, dep.Redis)
	healthHandler.RegisterRoutes(r)

	api := r.Group("/api/v1")
	api.Use(middleware.RequestIDMiddleware())

	alertsHandler := alertshttp.NewHandler(dep.Registry, dep.Resume)
	alertsHandler.Register(api, dep.AuthClient)

	return r
}
