package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/medminder/medminder/internal/config"
)

func main() {
	fmt.Println("🔍 Validando configuración...")

	if err := godotenv.Load(); err != nil {
		fmt.Printf("⚠️  Archivo .env no encontrado: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Configuración no válida:\n%v\n", err)
		os.Exit(1)
	}

	fmt.Println("✅ Configuración válida")
	fmt.Printf("📋 Detalles:\n")
	fmt.Printf("  - Telegram Token: %s\n", maskToken(cfg.TelegramToken))
	fmt.Printf("  - Storage Backend: %s\n", cfg.Storage.Backend)
	fmt.Printf("  - Firebase Project: %s\n", cfg.Storage.FirebaseProjectID)
	fmt.Printf("  - DB Host: %s\n", cfg.Storage.DB.Host)
	fmt.Printf("  - DB Port: %s\n", cfg.Storage.DB.Port)
	fmt.Printf("  - DB Name: %s\n", cfg.Storage.DB.DBName)
	fmt.Printf("  - Redis Enabled: %v\n", cfg.Redis.Enabled)
	fmt.Printf("  - Notifications: %v (repeat %d)\n", cfg.Reminders.NotificationsEnabled, cfg.Reminders.RepeatCount)
	fmt.Printf("  - Stock Alert Lead Days: %d\n", cfg.Reminders.StockAlertLeadDays)
	fmt.Printf("  - Log Level: %v\n", cfg.Logger.Level)
	fmt.Printf("  - Log Output: %s\n", cfg.Logger.OutputPath)
	fmt.Printf("  - Log Format: %s\n", cfg.Logger.Format)
}

func maskToken(token string) string {
	if token == "" {
		return "<no establecido>"
	}
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
