package ports

import (
	"github.com/gin-gonic/gin"
)

// LiveHandler is the simulator's HTTP surface.
type LiveHandler interface {
	CreateSession(c *gin.Context)
	GetSession(c *gin.Context)
	ListSessions(c *gin.Context)
	GetWebRTCInfo(c *gin.Context)
	GetViewerCount(c *gin.Context)
	StopSession(c *gin.Context)
}
