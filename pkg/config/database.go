package config

import (
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"agrivest/internal/models"
)

var DB *gorm.DB

// NewDB opens the postgres connection pool. All timestamps are handled in UTC.
func NewDB(s DatabaseSettings) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(s.DSN()), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(s.MaxIdleConns) // 设置空闲连接池中的最大连接数
	sqlDB.SetMaxOpenConns(s.MaxOpenConns) // 设置打开数据库连接的最大数量
	sqlDB.SetConnMaxLifetime(time.Hour)   // 设置连接可复用的最大时间
	return db, nil
}

// InitDB connects the global DB. With AutoMigrate set, the schema is created
// from the models instead of the SQL migrations.
func InitDB(s DatabaseSettings) {
	db, err := NewDB(s)
	if err != nil {
		log.Fatal("Failed to connect to database: ", err)
	}
	DB = db

	if s.AutoMigrate {
		if err := models.AutoMigrate(DB); err != nil {
			log.Fatal("Failed to migrate database: ", err)
		}
	}
	log.WithFields(log.Fields{"host": s.Host, "db": s.Name}).Info("> database connected")
}
