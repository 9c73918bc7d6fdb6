package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var db *gorm.DB

// DSN builds the connection string for the configured driver unless DatabaseURI is set.
func (c AppConfig) DSN() string {
	if c.DatabaseURI != "" {
		return c.DatabaseURI
	}
	if c.DBDriver == "postgres" {
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// GormConfig is shared by production and tests so both translate driver
// errors (unique violations become gorm.ErrDuplicatedKey).
func GormConfig(level string) *gorm.Config {
	gLogger := logger.New(
		log.New(os.Stdout, "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             2 * time.Second,
			LogLevel:                  toGormLogLevel(level),
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	return &gorm.Config{
		Logger:                                   gLogger,
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	}
}

// InitDatabase connects using the configured driver and migrates modelDefs.
func InitDatabase(modelDefs ...interface{}) *gorm.DB {
	if db != nil {
		return db
	}

	cfg := Get()
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	default:
		dialector = mysql.Open(cfg.DSN())
	}

	var err error
	db, err = gorm.Open(dialector, GormConfig(cfg.LogLevel))
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("failed to get sql.DB: %v", err)
	}

	// moderate pool with eager recycling so server-side idle timeouts do not surface as bad connections
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		log.Fatalf("database ping failed: %v", err)
	}

	if len(modelDefs) > 0 {
		if err := db.AutoMigrate(modelDefs...); err != nil {
			log.Fatalf("auto migration failed: %v", err)
		}
	}
	return db
}

// toGormLogLevel maps application LogLevel to GORM's logger level.
func toGormLogLevel(level string) logger.LogLevel {
	switch level {
	case "debug":
		// GORM 'Info' shows SQL; use with caution
		return logger.Info
	case "info", "", "warn":
		return logger.Warn
	case "error":
		return logger.Error
	case "silent":
		return logger.Silent
	default:
		return logger.Warn
	}
}

// DB provides access to initialized gorm DB instance.
func DB() *gorm.DB {
	if db == nil {
		log.Fatal("database not initialized, call InitDatabase first")
	}
	return db
}
