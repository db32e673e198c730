package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adonese/allocation/allocator"
	"github.com/adonese/allocation/api"
	"github.com/adonese/allocation/mailer"
	"github.com/adonese/allocation/stock"
	"github.com/adonese/allocation/store"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var serviceConfig stock.Config
var logrusLogger = logrus.New()
var database *store.DB
var storeSvc *store.Store
var busService *allocator.Service
var apiService *api.Service

func isTestRun() bool {
	return strings.HasSuffix(os.Args[0], ".test")
}

func firstExistingPath(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func loadConfig() ([]byte, error) {
	configPath := firstExistingPath(os.Getenv("ALLOCATION_CONFIG"), "./config.yaml", "../config.yaml")
	if configPath == "" {
		if isTestRun() {
			return []byte("{}"), nil
		}
		return nil, errors.New("config.yaml not found")
	}

	configData, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	configMap := map[string]interface{}{}
	if err := yaml.Unmarshal(configData, &configMap); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	section, _ := configMap["allocation"].(map[string]interface{})
	if section == nil {
		section = map[string]interface{}{}
	}

	payload, err := json.Marshal(section)
	if err != nil {
		return nil, fmt.Errorf("encode allocation config: %w", err)
	}

	logrusLogger.Printf("Loaded config from %s", configPath)
	return payload, nil
}

// environment wins over the config file, the way deployments override it.
func applyEnvOverrides(cfg *stock.Config) {
	if v := os.Getenv("ALLOCATION_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("ALLOCATION_DB_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("ALLOCATION_DB_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("ALLOCATION_REDIS_ADDRESS"); v != "" {
		cfg.RedisAddress = v
	}
	if v := os.Getenv("ALLOCATION_REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("ALLOCATION_MAIL_HOST"); v != "" {
		cfg.MailHost = v
	}
	if v := os.Getenv("ALLOCATION_STOCK_ADMIN_EMAIL"); v != "" {
		cfg.StockAdminEmail = v
	}
}

// GetMainEngine returns the fiber app with every route mounted.
func GetMainEngine() *fiber.App {
	route := fiber.New()
	apiService.Routes(route)
	return route
}

func init() {
	var err error

	configData, err := loadConfig()
	if err != nil {
		logrusLogger.Fatalf("error loading config: %v", err)
	}
	if err := json.Unmarshal(configData, &serviceConfig); err != nil {
		logrusLogger.Fatalf("error in unmarshaling config file: %v", err)
	}
	applyEnvOverrides(&serviceConfig)
	serviceConfig.Defaults()
	configureLogger(serviceConfig)

	dbpath := serviceConfig.DatabasePath
	if isTestRun() {
		if tmp, err := os.CreateTemp("", "allocation-test-*.db"); err == nil {
			dbpath = tmp.Name()
			_ = tmp.Close()
		}
	}

	database, err = store.OpenFromConfig(serviceConfig.DatabaseURL, dbpath, serviceConfig.DatabaseDriver)
	if err != nil {
		logrusLogger.Fatalf("error in connecting to db: %v", err)
	}
	storeSvc = store.New(database)
	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelMigrate()
	if err := store.Migrate(migrateCtx, database); err != nil {
		logrusLogger.Fatalf("error in migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     serviceConfig.RedisAddress,
		Password: serviceConfig.RedisPassword,
	})

	busService = &allocator.Service{
		Store:  allocator.SQLStorage{Store: storeSvc},
		Redis:  redisClient,
		Mailer: mailer.FromConfig(serviceConfig.MailHost, serviceConfig.MailPort, serviceConfig.MailFrom, serviceConfig.MailUsername, serviceConfig.MailPassword, logrusLogger),
		Config: serviceConfig,
		Logger: logrusLogger,
	}
	apiService = &api.Service{
		Bus:    busService,
		Store:  storeSvc,
		Config: serviceConfig,
		Logger: logrusLogger,
	}
}
