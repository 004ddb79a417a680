package datastore

import (
	"net"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/shipwatch/shipwatch/internal/errors"
	"github.com/shipwatch/shipwatch/internal/logger"
)

const (
	mysqlMaxOpenConns    = 10
	mysqlMaxIdleConns    = 5
	mysqlConnMaxLifetime = time.Hour
)

// MySQLStore implements Interface for MySQL databases
type MySQLStore struct {
	DataStore
}

// mysqlDSN builds the connection string. Times are stored and read back in UTC.
func (store *MySQLStore) mysqlDSN() string {
	s := store.Settings.Database.MySQL
	cfg := mysqldriver.NewConfig()
	cfg.User = s.Username
	cfg.Passwd = s.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(s.Host, s.Port)
	cfg.DBName = s.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Open initializes the MySQL database connection
func (store *MySQLStore) Open() error {
	s := store.Settings.Database.MySQL
	if s.Host == "" || s.Database == "" {
		return validationError("mysql host and database are required", "database.mysql", s.Host+"/"+s.Database)
	}

	db, err := gorm.Open(mysql.Open(store.mysqlDSN()), store.gormConfig())
	if err != nil {
		return dbError(err, "open", errors.PriorityCritical, "host", s.Host, "database", s.Database)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return dbError(err, "get_sql_db", errors.PriorityCritical)
	}
	sqlDB.SetMaxOpenConns(mysqlMaxOpenConns)
	sqlDB.SetMaxIdleConns(mysqlMaxIdleConns)
	sqlDB.SetConnMaxLifetime(mysqlConnMaxLifetime)

	store.DB = db
	store.logger.Info("opened database",
		logger.String("host", s.Host),
		logger.String("database", s.Database))
	return nil
}
