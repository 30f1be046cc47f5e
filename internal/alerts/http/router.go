package http

import (
	fbauth "firebase.google.com/go/v4/auth"
	"github.com/gin-gonic/gin"

	"github.com/knockme-app/knockme-backend/internal/auth/middleware"
)

// Register mounts the session, auth, feed and alert routes. The mutation
// group additionally requires a Firebase ID token matching the session user.
func (h *Handler) Register(r gin.IRouter, authClient *fbauth.Client) {
	r.POST("/session", h.CreateSession)
	r.DELETE("/session", h.CloseSession)
	r.GET("/session/resume", h.Resume)

	r.POST("/auth/signin", h.SignIn)
	r.POST("/auth/signout", h.SignOut)

	r.GET("/feed/state", h.State)
	r.GET("/feed/stream", h.StreamState)

	alerts := r.Group("/alerts")
	alerts.Use(middleware.FirebaseAuthMiddleware(authClient))
	alerts.POST("", h.AddAlert)
	alerts.POST("/:id/knock", h.Knock)
	alerts.DELETE("/:id", h.DeleteAlert)
}
