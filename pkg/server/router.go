// Package server 提供 HTTP Server 功能
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/KodaTao/PluginKernel/pkg/chassis"
	"github.com/KodaTao/PluginKernel/pkg/conversation"
	"github.com/KodaTao/PluginKernel/pkg/function"
	"github.com/KodaTao/PluginKernel/pkg/llm"
	"github.com/KodaTao/PluginKernel/pkg/observability"
	"github.com/KodaTao/PluginKernel/pkg/retrieval"
	"github.com/KodaTao/PluginKernel/pkg/types"
)

// Server HTTP 服务器
type Server struct {
	app    *chassis.App
	engine *gin.Engine
	config *ServerConfig
	http   *http.Server
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host        string
	Port        int
	Mode        string // debug, release, test
	MetricsPath string // 为空时不暴露指标
}

// NewServer 创建 HTTP 服务器
func NewServer(app *chassis.App, config *ServerConfig) *Server {
	// 设置 Gin 模式
	switch config.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()

	// 添加中间件
	engine.Use(gin.Recovery())
	engine.Use(LoggerMiddleware())
	engine.Use(CORSMiddleware())

	server := &Server{
		app:    app,
		engine: engine,
		config: config,
	}

	// 注册路由
	server.setupRoutes()

	return server
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	// 健康检查
	s.engine.GET("/health", s.healthCheck)

	if s.config.MetricsPath != "" {
		s.engine.GET(s.config.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	// API v1
	v1 := s.engine.Group("/api/v1")
	{
		// 对话接口
		v1.POST("/chat", s.chat)

		// 函数目录
		v1.GET("/functions", s.listFunctions)
		v1.GET("/functions/:namespace/:name", s.getFunction)
		v1.POST("/functions/:namespace/:name/invoke", s.invokeFunction)

		// 检索
		v1.POST("/retrieve", s.retrieve)

		// Session 管理
		v1.GET("/sessions", s.listSessions)
		v1.GET("/sessions/:id", s.getSession)
		v1.DELETE("/sessions/:id", s.deleteSession)
	}
}

// Addr 返回监听地址
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Run 启动服务器，直到 Shutdown 被调用
func (s *Server) Run() error {
	s.http = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	observability.Info("Starting HTTP server", "address", s.http.Addr)

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	observability.Info("Stopping HTTP server")
	return s.http.Shutdown(ctx)
}

// GetEngine 获取 Gin 引擎（用于测试）
func (s *Server) GetEngine() *gin.Engine {
	return s.engine
}

// 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"functions": s.app.GetRegistry().Count(),
		"timestamp": time.Now().Unix(),
	})
}

// 对话接口
func (s *Server) chat(c *gin.Context) {
	var req types.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}
	if req.Channel == nil {
		req.Channel = &types.ChannelContext{Type: "http"}
	}

	resp, err := s.app.GetAgent().Chat(c.Request.Context(), req)
	if err != nil {
		observability.ErrorContext(c.Request.Context(), "Chat failed", "session_id", req.SessionID, "error", err)
		c.JSON(chatStatus(err), gin.H{
			"error": "Chat failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// chatStatus 把对话错误映射为 HTTP 状态码
func chatStatus(err error) int {
	var unavailable *llm.CompletionUnavailableError
	switch {
	case errors.Is(err, conversation.ErrMaxHopsExceeded):
		return http.StatusUnprocessableEntity
	case errors.As(err, &unavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// functionInfo 函数目录条目
type functionInfo struct {
	Namespace   string         `json:"namespace"`
	Name        string         `json:"name"`
	Tool        string         `json:"tool"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func toFunctionInfo(e function.Entry) functionInfo {
	return functionInfo{
		Namespace:   e.Namespace,
		Name:        e.Descriptor.Name,
		Tool:        e.QualifiedName(),
		Description: e.Descriptor.Description,
		Parameters:  function.JSONSchema(e.Descriptor),
	}
}

// 列出所有函数
func (s *Server) listFunctions(c *gin.Context) {
	catalog := s.app.GetRegistry().Catalog()
	functions := make([]functionInfo, 0, len(catalog))
	for _, e := range catalog {
		functions = append(functions, toFunctionInfo(e))
	}
	c.JSON(http.StatusOK, gin.H{
		"functions": functions,
		"count":     len(functions),
	})
}

// 获取单个函数
func (s *Server) getFunction(c *gin.Context) {
	namespace, name := c.Param("namespace"), c.Param("name")

	entry, ok := s.app.GetRegistry().Get(namespace, name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Function not found: " + function.QualifiedName(namespace, name),
		})
		return
	}

	c.JSON(http.StatusOK, toFunctionInfo(entry))
}

// 直接调用函数
func (s *Server) invokeFunction(c *gin.Context) {
	namespace, name := c.Param("namespace"), c.Param("name")

	var args map[string]any
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&args); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid arguments: " + err.Error(),
			})
			return
		}
	}

	result, err := s.app.GetRegistry().Invoke(c.Request.Context(), namespace, name, args)
	if err != nil {
		c.JSON(invokeStatus(err), gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"result": result,
	})
}

// invokeStatus 把函数调用错误映射为 HTTP 状态码
func invokeStatus(err error) int {
	var argErr *function.ArgumentValidationError
	switch {
	case errors.Is(err, function.ErrUnknownFunction):
		return http.StatusNotFound
	case errors.As(err, &argErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// retrieveRequest 检索请求
type retrieveRequest struct {
	Query string `json:"query" binding:"required"`
	K     int    `json:"k" binding:"gte=0"`
}

// 检索文档并返回组装后的结果
func (s *Server) retrieve(c *gin.Context) {
	retriever := s.app.GetRetriever()
	if retriever == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Retrieval is not configured",
		})
		return
	}

	var req retrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	fragments, err := retriever.Retrieve(c.Request.Context(), req.Query, req.K)
	if err != nil {
		status := http.StatusInternalServerError
		var unavailable *retrieval.RetrievalUnavailableError
		if errors.As(err, &unavailable) {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{
			"error": err.Error(),
		})
		return
	}

	payload := retrieval.Assemble(req.Query, fragments)
	c.JSON(http.StatusOK, gin.H{
		"payload": payload,
		"context": payload.String(),
	})
}

// 列出所有 Session
func (s *Server) listSessions(c *gin.Context) {
	sessions, err := s.app.GetAgent().ListSessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// 获取 Session 历史
func (s *Server) getSession(c *gin.Context) {
	id := c.Param("id")

	turns, err := s.app.GetAgent().History(c.Request.Context(), id)
	if errors.Is(err, chassis.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Session not found: " + id,
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":    id,
		"turns": turns,
	})
}

// 删除 Session
func (s *Server) deleteSession(c *gin.Context) {
	id := c.Param("id")

	deleted, err := s.app.GetAgent().DeleteSession(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}
	if deleted {
		c.JSON(http.StatusOK, gin.H{
			"message": "Session deleted",
		})
	} else {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Session not found: " + id,
		})
	}
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		observability.Info("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
