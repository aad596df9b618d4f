package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"moneta/internal/auth"
	"moneta/internal/config"
	"moneta/internal/log"
	"moneta/internal/serialization"
	"moneta/internal/storage"
)

func main() {
	format := flag.String("format", "native", "dump format: native | moneydb")
	clean := flag.Bool("clean", false, "wipe existing rows before importing")
	export := flag.Bool("export", false, "write a native dump to stdout instead of importing")
	setPassword := flag.String("set-password", "", "set the password of the named user, read from stdin")
	flag.Parse()

	_ = godotenv.Load()
	// stdout carries the dump in -export mode, so records go to stderr.
	logger := log.InitTo(os.Stderr, 0).WithComponent(log.ComponentImport)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	repo, err := storage.Open(cfg.DBDriver, cfg.DSN(), logger)
	if err != nil {
		logger.Error("failed to open database", log.FieldError, err, "driver", cfg.DBDriver)
		os.Exit(1)
	}
	defer repo.Close()

	ctx := context.Background()

	// Imported users carry no password hash; this mode renews them.
	if *setPassword != "" {
		if err := renewPassword(ctx, repo, *setPassword); err != nil {
			logger.Error("set password failed", log.FieldError, err, "username", *setPassword)
			os.Exit(1)
		}
		logger.Info("password updated", "username", *setPassword)
		return
	}

	if *export {
		snapshot, err := repo.Export(ctx)
		if err != nil {
			logger.Error("export failed", log.FieldError, err)
			os.Exit(1)
		}
		if err := serialization.WriteNative(os.Stdout, snapshot); err != nil {
			logger.Error("write dump failed", log.FieldError, err)
			os.Exit(1)
		}
		return
	}

	var snapshot *storage.Snapshot
	switch *format {
	case "native":
		snapshot, err = serialization.ReadNative(os.Stdin)
	case "moneydb":
		var db *serialization.MoneyDB
		if db, err = serialization.ReadMoneyDB(os.Stdin); err == nil {
			snapshot = db.Convert(logger)
		}
	default:
		logger.Error("unknown format", "format", *format)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("read dump failed", log.FieldError, err)
		os.Exit(1)
	}

	if err := repo.Import(ctx, snapshot, *clean); err != nil {
		logger.Error("import failed", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("import finished", "format", *format)
}

func renewPassword(ctx context.Context, repo *storage.Repository, username string) error {
	u, err := repo.UserByName(ctx, username)
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return err
		}
		return errors.New("no password on stdin")
	}
	password := strings.TrimSpace(scanner.Text())
	if password == "" {
		return errors.New("empty password")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	return repo.UpdateUserHash(ctx, u.ID, hash)
}
