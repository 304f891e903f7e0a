package http

import (
	"net/http"

	"github.com/dkeye/Rendezvous/internal/app"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
)

type handlers struct {
	coord *app.Coordinator
	ice   webrtc.Configuration
}

type ICEResponse struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.coord.Stats())
}

// iceServers hands browsers the STUN/TURN list for their RTCPeerConnection.
func (h *handlers) iceServers(c *gin.Context) {
	c.JSON(http.StatusOK, ICEResponse{ICEServers: h.ice.ICEServers})
}
