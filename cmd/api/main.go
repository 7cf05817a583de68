package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DayanFA/MedCheck/internal/auth"
	"github.com/DayanFA/MedCheck/internal/calendar"
	"github.com/DayanFA/MedCheck/internal/checkcode"
	"github.com/DayanFA/MedCheck/internal/clock"
	"github.com/DayanFA/MedCheck/internal/config"
	"github.com/DayanFA/MedCheck/internal/discipline"
	"github.com/DayanFA/MedCheck/internal/httpmiddleware"
	"github.com/DayanFA/MedCheck/internal/queue"
	"github.com/DayanFA/MedCheck/internal/session"
	"github.com/DayanFA/MedCheck/internal/store"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Error("http server failed", "err", err)
		os.Exit(1)
	}
}

func runHTTP(cfg config.App, logger *slog.Logger) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedis(redisClient.Client, queue.DefaultKey)
	}

	clk := clock.Real{}
	disciplines := discipline.NewRepository(db.Client)
	codes := checkcode.NewService(checkcode.NewRepository(db.Client), clk, logger)
	sessions := session.NewRepository(db.Client)
	checks := session.NewService(sessions, codes, disciplines, clk)
	plans := calendar.NewPlanRepository(db.Client)
	justs := calendar.NewJustificationRepository(db.Client)
	cal := calendar.NewService(plans, justs, disciplines, clk)
	compiler := calendar.NewCompiler(plans, justs, sessions, clk)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	authGroup := r.Group("/v1", auth.Middleware(cfg.JWTSigningKey, cfg.JWTIssuer))

	// Supervisor's own rotating code; repeated calls inside the validity
	// window return the same code.
	authGroup.GET("/check/code", func(c *gin.Context) {
		actor, _ := auth.ActorFrom(c)
		if !actor.Elevated() {
			c.JSON(http.StatusForbidden, gin.H{"error": "supervisor role required"})
			return
		}
		resp, err := codes.GetOrCreate(c.Request.Context(), actor.ID)
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	authGroup.GET("/check/code/qr", func(c *gin.Context) {
		actor, _ := auth.ActorFrom(c)
		if !actor.Elevated() {
			c.JSON(http.StatusForbidden, gin.H{"error": "supervisor role required"})
			return
		}
		size := 256
		if v := c.Query("size"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				size = parsed
			}
		}
		png, err := codes.QR(c.Request.Context(), actor.ID, size)
		if err != nil {
			httpError(c, err)
			return
		}
		c.Data(http.StatusOK, "image/png", png)
	})

	// Peek at another supervisor's active code, for coordinator dashboards.
	authGroup.GET("/check/supervisor/:id/code", func(c *gin.Context) {
		actor, _ := auth.ActorFrom(c)
		if !actor.Elevated() {
			c.JSON(http.StatusForbidden, gin.H{"error": "supervisor role required"})
			return
		}
		supervisorID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid supervisor id"})
			return
		}
		resp, err := codes.Peek(c.Request.Context(), supervisorID)
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	authGroup.POST("/check/in", func(c *gin.Context) {
		actor, _ := auth.ActorFrom(c)
		var req struct {
			SupervisorID int64    `json:"supervisorId" binding:"required"`
			Code         string   `json:"code" binding:"required"`
			DisciplineID *int64   `json:"disciplineId"`
			Lat          *float64 `json:"lat"`
			Lng          *float64 `json:"lng"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sess, err := checks.CheckIn(c.Request.Context(), actor, req.SupervisorID, req.Code,
			req.DisciplineID, session.Coords{Lat: req.Lat, Lng: req.Lng})
		if err != nil {
			httpError(c, err)
			return
		}

		if err := q.Publish(c.Request.Context(), queue.Message{
			Kind: queue.KindCheckIn, StudentID: actor.ID, SessionID: sess.ID, At: sess.CheckInTime,
		}); err != nil {
			logger.Warn("queue publish failed", "err", err)
		}

		c.JSON(http.StatusCreated, checks.ToResponse(sess, nil))
	})

	authGroup.POST("/check/out", func(c *gin.Context) {
		actor, _ := auth.ActorFrom(c)
		var req struct {
			Lat *float64 `json:"lat"`
			Lng *float64 `json:"lng"`
		}
		// Body is optional; coordinates are best-effort.
		_ = c.ShouldBindJSON(&req)

		sess, err := checks.CheckOut(c.Request.Context(), actor.ID, session.Coords{Lat: req.Lat, Lng: req.Lng})
		if err != nil {
			httpError(c, err)
			return
		}

		if err := q.Publish(c.Request.Context(), queue.Message{
			Kind: queue.KindCheckOut, StudentID: actor.ID, SessionID: sess.ID, At: *sess.CheckOutTime,
		}); err != nil {
			logger.Warn("queue publish failed", "err", err)
		}

		c.JSON(http.StatusOK, checks.ToResponse(sess, nil))
	})

	authGroup.GET("/check/status", func(c *gin.Context) {
		actor, _ := auth.ActorFrom(c)
		studentID := resolveStudentID(c, actor)
		status, err := checks.TodayStatus(c.Request.Context(), studentID)
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	})

	authGroup.GET("/check/sessions", func(c *gin.Context) {
		actor, _ := auth.ActorFrom(c)
		studentID := resolveStudentID(c, actor)

		from, err := time.Parse("2006-01-02", c.Query("start"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start required as YYYY-MM-DD"})
			return
		}
		to, err := time.Parse("2006-01-02", c.Query("end"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end required as YYYY-MM-DD"})
			return
		}
		disciplineID := optionalInt64(c.Query("disciplineId"))

		from = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, clock.Zone)
		to = time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, clock.Zone)

		list, err := checks.ListSessions(c.Request.Context(), studentID, from, to, disciplineID)
		if err != nil {
			httpError(c, err)
			return
		}

		out := make([]session.Response, 0, len(list))
		for i := range list {
			var disc *discipline.Discipline
			if list[i].DisciplineID != nil {
				disc, _ = disciplines.Get(c.Request.Context(), *list[i].DisciplineID)
			}
			out = append(out, checks.ToResponse(&list[i], disc))
		}
		c.JSON(http.StatusOK, gin.H{"sessions": out})
	})

	authGroup.GET("/check/my-disciplines", func(c *gin.Context) {
		actor, _ := auth.ActorFrom(c)
		if !actor.Elevated() {
			c.JSON(http.StatusForbidden, gin.H{"error": "supervisor role required"})
			return
		}
		list, err := disciplines.ListForSupervisor(c.Request.Context(), actor.ID)
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"disciplines": list})
	})

	authGroup.GET("/calendar/month", func(c *gin.Context) {
		actor, _ := auth.ActorFrom(c)
		studentID := resolveStudentID(c, actor)

		now := clk.Now()
		year := now.Year()
		month := int(now.Month())
		if v := c.Query("year"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				year = parsed
			}
		}
		if v := c.Query("month"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				month = parsed
			}
		}
		if month < 1 || month > 12 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "month out of range"})
			return
		}
		disciplineID := optionalInt64(c.Query("disciplineId"))

		view, err := compiler.MonthView(c.Request.Context(), studentID, year, time.Month(month), disciplineID)
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	authGroup.GET("/calendar/week", func(c *gin.Context) {
		actor, _ := auth.ActorFrom(c)
		studentID := resolveStudentID(c, actor)

		week, err := strconv.Atoi(c.Query("weekNumber"))
		if err != nil || week < 1 || week > 52 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "weekNumber required as 1-52"})
			return
		}
		list, err := cal.WeekPlans(c.Request.Context(), studentID, week)
		if err != nil {
			httpError(c, err)
			return
		}
		out := make([]calendar.PlanDTO, 0, len(list))
		for i := range list {
			out = append(out, list[i].DTO())
		}
		c.JSON(http.StatusOK, gin.H{"plans": out})
	})

	authGroup.POST("/calendar/plan", func(c *gin.Context) {
		actor, _ := auth.ActorFrom(c)
		var req calendar.PlanInput
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		p, err := cal.UpsertPlan(c.Request.Context(), actor, req)
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, p.DTO())
	})

	authGroup.DELETE("/calendar/plan/:id", func(c *gin.Context) {
		actor, _ := auth.ActorFrom(c)
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plan id"})
			return
		}
		if err := cal.DeletePlan(c.Request.Context(), actor, id); err != nil {
			httpError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	authGroup.POST("/calendar/justify", func(c *gin.Context) {
		actor, _ := auth.ActorFrom(c)
		var req calendar.JustificationInput
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		j, err := cal.UpsertJustification(c.Request.Context(), actor, req)
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, j.DTO())
	})

	authGroup.DELETE("/calendar/justify/:id", func(c *gin.Context) {
		actor, _ := auth.ActorFrom(c)
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid justification id"})
			return
		}
		if err := cal.DeleteJustification(c.Request.Context(), actor, id); err != nil {
			httpError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	authGroup.DELETE("/calendar/justify", func(c *gin.Context) {
		actor, _ := auth.ActorFrom(c)
		date := c.Query("date")
		if date == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date required as YYYY-MM-DD"})
			return
		}
		if err := cal.DeleteJustificationByDate(c.Request.Context(), actor, date); err != nil {
			httpError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	authGroup.POST("/calendar/justify/review", func(c *gin.Context) {
		actor, _ := auth.ActorFrom(c)
		var req struct {
			StudentID int64  `json:"studentId" binding:"required"`
			Date      string `json:"date" binding:"required"`
			Action    string `json:"action" binding:"required"`
			Note      string `json:"note"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		j, err := cal.Review(c.Request.Context(), actor, req.StudentID, req.Date, req.Action, req.Note)
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, j.DTO())
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", "err", err)
	}

	logger.Info("server exited")
	return nil
}

// resolveStudentID lets elevated roles pass studentId to read another
// student's data; students always act on themselves.
func resolveStudentID(c *gin.Context, actor auth.Actor) int64 {
	if !actor.Elevated() {
		return actor.ID
	}
	if v := c.Query("studentId"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return actor.ID
}

func optionalInt64(s string) *int64 {
	if s == "" {
		return nil
	}
	parsed, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &parsed
}

func httpError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, checkcode.ErrNoActiveCode),
		errors.Is(err, session.ErrDisciplineNotFound),
		errors.Is(err, calendar.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, checkcode.ErrCodeInvalidOrExpired),
		errors.Is(err, session.ErrDisciplineRequired),
		errors.Is(err, calendar.ErrInvalidAction),
		errors.Is(err, calendar.ErrLocationRequired),
		errors.Is(err, calendar.ErrInvalidTime):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrInvalidRole),
		errors.Is(err, session.ErrDisciplineNotLinked):
		status = http.StatusForbidden
	case errors.Is(err, session.ErrAlreadyInService),
		errors.Is(err, session.ErrNoOpenSession),
		errors.Is(err, calendar.ErrJustificationReviewed):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "err", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
