// Command migrate checks the database connection, applies the schema and
// optionally seeds principals for local use.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"pricealerts/internal/auth"
	"pricealerts/internal/config"
	"pricealerts/internal/database"
	"pricealerts/internal/logger"

	"go.uber.org/zap"
)

func main() {
	dbConn := flag.String("db", "", "Database connection string (overrides DATABASE_URL)")
	principals := flag.String("principal", "", "Comma-separated principal ids to register")
	tokenTTL := flag.Duration("token-ttl", 0, "Print a bearer token per registered principal, valid for this long")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *dbConn != "" {
		cfg.Database.URL = *dbConn
	}

	logg, err := logger.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logg.Sync() }()

	db, err := database.Open(ctx, cfg.Database, logg)
	if err != nil {
		logg.Fatal("Database connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		logg.Fatal("Migration failed", zap.Error(err))
	}
	logg.Info("Schema is up to date")

	var signer *auth.Authenticator
	if *tokenTTL > 0 {
		signer, err = auth.NewAuthenticator(cfg.JWTSecret, logg)
		if err != nil {
			logg.Fatal("Cannot issue tokens", zap.Error(err))
		}
	}

	for _, id := range strings.Split(*principals, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if err := database.RegisterPrincipal(ctx, db, id); err != nil {
			logg.Fatal("Failed to register principal", zap.Error(err))
		}
		logg.Info("Registered principal", zap.String("principal", id))

		if signer != nil {
			token, err := signer.Sign(id, *tokenTTL)
			if err != nil {
				logg.Fatal("Failed to sign token", zap.Error(err))
			}
			fmt.Printf("%s\t%s\texpires %s\n", id, token, time.Now().Add(*tokenTTL).Format(time.RFC3339))
		}
	}
}
