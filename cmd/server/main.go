package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/appforge/backend/internal/application/services"
	"github.com/appforge/backend/internal/bootstrap"
	"github.com/appforge/backend/internal/infrastructure/database"
	"github.com/appforge/backend/internal/interfaces/middleware"
	"github.com/appforge/backend/internal/interfaces/rest"
)

func main() {
	// Optional .env for local development
	if err := godotenv.Load(); err == nil {
		log.Println("📦 Loaded environment from .env")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "3001"
	}

	// Initialize database connection
	db, err := database.GetInstance()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("✅ Database connection established")

	// Initialize service manager
	svcMgr := services.NewServiceManager(db)
	log.Println("🔧 Service manager initialized")

	// Load, validate, compile and apply the schema document. This is
	// all-or-nothing: a broken document stops the server from starting.
	schemaPath := bootstrap.SchemaPath()
	doc, err := bootstrap.LoadSchemaDocument(schemaPath)
	if err != nil {
		log.Fatalf("Failed to load schema document: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	snapshot, err := svcMgr.Registry.Apply(ctx, doc)
	cancel()
	if err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}
	log.Printf("📐 Schema %s compiled: generation %d, %d tables", schemaPath, snapshot.Generation, len(snapshot.Tables))

	// Create Gin router
	router := gin.Default()
	router.Use(middleware.Cors())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		current := svcMgr.Registry.Current()
		generation := int64(0)
		if current != nil {
			generation = current.Generation
		}
		c.JSON(200, gin.H{
			"status":     "ok",
			"server":     "golang",
			"generation": generation,
		})
	})

	// Initialize handlers
	dataHandler := rest.NewDataHandler(svcMgr.Records)
	metadataHandler := rest.NewMetadataHandler(svcMgr.Metadata)
	adminHandler := rest.NewAdminHandler(svcMgr.Registry, svcMgr.Audit, schemaPath)

	// API routes
	api := router.Group("/api")
	api.Use(middleware.ResolveCaller())
	{
		dataHandler.RegisterRoutes(api)
		metadataHandler.RegisterRoutes(api)

		// Admin routes (operator token only)
		admin := api.Group("")
		admin.Use(middleware.RequireOperator())
		adminHandler.RegisterRoutes(admin)
	}

	// Start scheduled schema drift audit
	if err := svcMgr.Audit.Start(); err != nil {
		log.Fatalf("Failed to start schema audit: %v", err)
	}

	log.Println("\n═══════════════════════════════════════════════════════════════════════════")
	log.Println("🚀 AppForge Backend Started Successfully")
	log.Println("═══════════════════════════════════════════════════════════════════════════")
	log.Printf("\n📍 Server:         http://localhost:%s", port)
	log.Printf("💾 Data API:       http://localhost:%s/api/data", port)
	log.Printf("📊 Metadata API:   http://localhost:%s/api/metadata/tables", port)
	log.Printf("🛡️ Admin API:      http://localhost:%s/api/admin/schema", port)
	log.Printf("💚 Health check:   http://localhost:%s/health\n", port)

	srv := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	svcMgr.Shutdown()
	log.Println("🛑 Background workers stopped")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	log.Println("Server exiting")
}
