package api

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/status", s.handleStatus)
	s.router.POST("/start", s.handleStart)
	s.router.POST("/stop", s.handleStop)
	s.router.GET("/ws", s.handleStatusStream)
}
