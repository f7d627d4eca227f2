package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/academic-requests-api/internal/models"
	"github.com/noah-isme/academic-requests-api/internal/repository"
	"github.com/noah-isme/academic-requests-api/pkg/config"
	"github.com/noah-isme/academic-requests-api/pkg/database"
	"github.com/noah-isme/academic-requests-api/pkg/logger"
)

var demoUsers = []models.User{
	{Identification: "1001234567", GivenName: "Juan", FamilyName: "Pérez", Email: "juan.perez@uq.edu.co", Role: models.RoleStudent, Active: true},
	{Identification: "1009876543", GivenName: "María", FamilyName: "García", Email: "maria.garcia@uq.edu.co", Role: models.RoleStudent, Active: true},
	{Identification: "8001234567", GivenName: "Carlos", FamilyName: "López", Email: "carlos.lopez@uq.edu.co", Role: models.RoleResponsible, Active: true},
	{Identification: "9001234567", GivenName: "Ana", FamilyName: "Martínez", Email: "ana.martinez@uq.edu.co", Role: models.RoleAdministrative, Active: true},
	{Identification: "7001234567", GivenName: "Pedro", FamilyName: "Ramírez", Email: "pedro.ramirez@uq.edu.co", Role: models.RoleTeacher, Active: true},
}

func main() {
	timeout := flag.Duration("timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	users := repository.NewUserRepository(db)
	created := 0
	for _, u := range demoUsers {
		if existing, err := users.FindByIdentification(ctx, u.Identification); err == nil {
			logr.Info("user already present", zap.Int64("user_id", existing.ID), zap.String("identification", u.Identification))
			continue
		} else if !errors.Is(err, sql.ErrNoRows) {
			logr.Fatal("lookup failed", zap.String("identification", u.Identification), zap.Error(err))
		}
		user := u
		if err := users.Create(ctx, &user); err != nil {
			logr.Fatal("create failed", zap.String("identification", u.Identification), zap.Error(err))
		}
		created++
		logr.Info("user seeded", zap.Int64("user_id", user.ID), zap.String("role", string(user.Role)), zap.String("name", user.FullName()))
	}
	logr.Info("seed finished", zap.Int("created", created), zap.Int("total", len(demoUsers)))
}
