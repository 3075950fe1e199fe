package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/lms-api/internal/config"
	"github.com/yourusername/lms-api/internal/handler"
	"github.com/yourusername/lms-api/internal/middleware"
	pgRepo "github.com/yourusername/lms-api/internal/repository/postgres"
	redisRepo "github.com/yourusername/lms-api/internal/repository/redis"
	"github.com/yourusername/lms-api/internal/service"
	"github.com/yourusername/lms-api/pkg/auth"
	"github.com/yourusername/lms-api/pkg/database"
)

func main() {
	// Загружаем конфигурацию
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	log.Printf("Загрузка конфигурации из %s", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к PostgreSQL
	db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString())
	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		os.Exit(1)
	}

	// Применяем миграции
	if err := database.MigrateDB(db); err != nil {
		log.Printf("Failed to migrate database: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к Redis
	redisClient, err := database.NewUniversalRedisClient(cfg.Redis)
	if err != nil {
		log.Printf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	log.Println("Successfully connected to Redis")

	// Инициализируем репозитории
	userRepo := pgRepo.NewUserRepo(db)
	quizRepo := pgRepo.NewQuizRepo(db)
	questionRepo := pgRepo.NewQuestionRepo(db)
	attemptRepo := pgRepo.NewAttemptRepo(db)
	enrollmentRepo := pgRepo.NewEnrollmentRepo(db)
	progressRepo := pgRepo.NewProgressRepo(db)

	cacheRepo, err := redisRepo.NewCacheRepo(redisClient)
	if err != nil {
		log.Printf("Failed to initialize CacheRepo: %v", err)
		os.Exit(1)
	}

	// Инициализируем JWT
	jwtService, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpirationHrs)
	if err != nil {
		log.Printf("Failed to initialize JWTService: %v", err)
		os.Exit(1)
	}

	// Инициализируем сервисы
	authService := service.NewAuthService(userRepo, jwtService)
	progressService := service.NewProgressService(progressRepo)
	eligibility := service.NewEligibilityChecker(enrollmentRepo, progressRepo, attemptRepo)
	attemptService := service.NewAttemptService(quizRepo, attemptRepo, cacheRepo, eligibility, progressService)
	quizService := service.NewQuizService(quizRepo, questionRepo, attemptRepo, userRepo, cacheRepo)

	// Инициализируем обработчики
	authHandler := handler.NewAuthHandler(authService)
	attemptHandler := handler.NewAttemptHandler(attemptService, progressService)
	quizHandler := handler.NewQuizHandler(quizService, attemptService)

	// Инициализируем middleware
	authMiddleware := middleware.NewAuthMiddleware(jwtService)

	// Инициализируем роутер Gin
	router := gin.Default()

	isProduction := gin.Mode() == gin.ReleaseMode

	// Настройка доверенных прокси для корректной работы c.ClientIP()
	if isProduction {
		// Production: не доверять прокси-заголовкам.
		// При деплое за load balancer замените nil на его IP.
		if err := router.SetTrustedProxies(nil); err != nil {
			log.Printf("Warning: failed to set trusted proxies: %v", err)
		}
	} else {
		if err := router.SetTrustedProxies([]string{"127.0.0.1", "::1"}); err != nil {
			log.Printf("Warning: failed to set trusted proxies: %v", err)
		}
	}

	// Настройка CORS
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:5173", "http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Настраиваем маршруты API
	api := router.Group("/api")
	{
		// Аутентификация
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
		}

		// Студенческие маршруты: прохождение тестов
		quizzes := api.Group("/quizzes")
		quizzes.Use(authMiddleware.RequireAuth())
		{
			quizWithID := quizzes.Group("/:id")
			quizWithID.Use(middleware.ExtractUintParam("id", "quizID"))
			{
				quizWithID.GET("", attemptHandler.GetQuiz)
				quizWithID.GET("/results", attemptHandler.GetResults)
				quizWithID.POST("/attempts", attemptHandler.StartAttempt)

				attemptWithID := quizWithID.Group("/attempts/:attempt_id")
				attemptWithID.Use(middleware.ExtractUintParam("attempt_id", "attemptID"))
				{
					attemptWithID.POST("/submit", attemptHandler.SubmitAttempt)
				}
			}
		}

		// Студенческие маршруты: курс и прогресс
		courses := api.Group("/courses/:course_id")
		courses.Use(authMiddleware.RequireAuth(), middleware.ExtractUintParam("course_id", "courseID"))
		{
			courses.GET("/quizzes", attemptHandler.ListCourseQuizzes)
			courses.GET("/progress", attemptHandler.GetCourseProgress)

			lectureWithID := courses.Group("/lectures/:lecture_id")
			lectureWithID.Use(middleware.ExtractUintParam("lecture_id", "lectureID"))
			{
				lectureWithID.POST("/viewed", attemptHandler.MarkLectureViewed)
			}
		}

		// Преподавательские маршруты: авторинг, проверка, выгрузка
		instructor := api.Group("/instructor")
		instructor.Use(authMiddleware.RequireAuth(), authMiddleware.InstructorOnly())
		{
			instructor.POST("/quizzes", quizHandler.CreateQuiz)

			instructorQuiz := instructor.Group("/quizzes/:id")
			instructorQuiz.Use(middleware.ExtractUintParam("id", "quizID"))
			{
				instructorQuiz.GET("", quizHandler.GetQuiz)
				instructorQuiz.PUT("", quizHandler.UpdateQuiz)
				instructorQuiz.DELETE("", quizHandler.DeleteQuiz)
				instructorQuiz.PATCH("/active", quizHandler.SetActive)
				instructorQuiz.POST("/questions", quizHandler.AddQuestions)
				instructorQuiz.GET("/attempts/export", quizHandler.ExportAttempts)
			}

			instructorCourse := instructor.Group("/courses/:course_id")
			instructorCourse.Use(middleware.ExtractUintParam("course_id", "courseID"))
			{
				instructorCourse.GET("/quizzes", quizHandler.ListCourseQuizzes)
			}

			instructorAttempt := instructor.Group("/attempts/:attempt_id")
			instructorAttempt.Use(middleware.ExtractUintParam("attempt_id", "attemptID"))
			{
				instructorAttempt.POST("/review", quizHandler.ReviewAttempt)
			}
		}
	}

	// Настраиваем HTTP сервер с тайм-аутами для защиты от slow client attacks
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Запускаем сервер в горутине
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Failed to start server: %v", err)
		}
	}()

	// Ждем сигнала остановки
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
		os.Exit(1)
	}

	if err := redisClient.Close(); err != nil {
		log.Printf("Error closing Redis client: %v", err)
	}

	log.Println("Server exited properly")
}
