package main

import (
	"log"
	"os"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"persona/admin"
	"persona/api"
	"persona/apps"
	"persona/auth"
	"persona/blog"
	"persona/cache"
	"persona/captcha"
	"persona/common"
	"persona/counter"
	"persona/database"
	"persona/ratelimit"
	"persona/site"
)

// subapps is the list of mounted route groups, served by /api/apps.
var subapps = []string{"auth", "admin", "apps", "counter", "blog", "api"}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	db := common.ConnectDb()
	if db == nil {
		log.Fatal("Failed to connect to database")
	}

	if err := database.RunMigrations(db); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	secrets, err := common.LoadSecrets(".")
	if err != nil {
		log.Fatal("Failed to load secret keys:", err)
	}

	router := gin.Default()

	store := cookie.NewStore(secrets.SessionKey)
	store.Options(sessions.Options{
		Path:     "/",
		HttpOnly: true,
	})
	router.Use(sessions.Sessions("persona-session", store))

	router.Use(common.SecurityHeaders())
	router.Use(ratelimit.Connect().Middleware())

	router.LoadHTMLGlob("*/views/*.html")

	gate := captcha.NewGate()
	previews := cache.Connect()

	auth.NewAuthModule(db, gate, secrets).RegisterRoutes(router)
	admin.NewAdminModule(db, gate, secrets).RegisterRoutes(router)
	apps.NewAppsModule(db, gate).RegisterRoutes(router)
	counter.NewCounterModule(db, gate).RegisterRoutes(router)
	blog.NewBlogModule(db, gate, secrets, previews).RegisterRoutes(router)
	api.NewAPIModule(db, subapps).RegisterRoutes(router)
	site.NewSiteModule(db).RegisterRoutes(router)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Starting server on port %s...", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
