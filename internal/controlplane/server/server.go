package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/botcast/gocast/internal/fleet"
)

var log = logrus.WithField("component", "controlplane")

// Server 机群控制面 HTTP API
// 只读状态查询 + 导演指令下发，给运维面板和 TUI 用
type Server struct {
	fleet *fleet.Orchestrator
	http  *http.Server
}

func New(f *fleet.Orchestrator) *Server {
	return &Server{fleet: f}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/bots", s.handleBots)
	api.POST("/director", s.handleDirectorNotify)
	api.GET("/director", s.handleDirectorHistory)
	api.GET("/history/:bot", s.handleBotHistory)

	return r
}

// Serve 监听并服务；阻塞直到 Shutdown
func (s *Server) Serve(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Infof("控制面监听: %s", addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"bots": s.fleet.Status()})
}

func (s *Server) handleBots(c *gin.Context) {
	bots, err := s.fleet.Backend().ListBots(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// 凭据不出控制面
	type botView struct {
		Name     string `json:"name"`
		Platform string `json:"platform"`
		Username string `json:"username"`
		Persona  string `json:"persona"`
		Gender   string `json:"gender"`
	}
	out := make([]botView, 0, len(bots))
	for _, b := range bots {
		out = append(out, botView{
			Name: b.Name, Platform: b.Platform, Username: b.Username,
			Persona: b.Persona, Gender: b.Gender,
		})
	}
	c.JSON(http.StatusOK, gin.H{"bots": out})
}

func (s *Server) handleDirectorNotify(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	if err := s.fleet.AddDirectorCommand(c.Request.Context(), strings.TrimSpace(req.Message)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleDirectorHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "5"))
	cmds, err := s.fleet.Backend().RecentDirectorCommands(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"commands": cmds})
}

func (s *Server) handleBotHistory(c *gin.Context) {
	botName := c.Param("bot")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "5"))
	logs, err := s.fleet.Backend().RecentInteractions(c.Request.Context(), botName, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bot": botName, "interactions": logs})
}
