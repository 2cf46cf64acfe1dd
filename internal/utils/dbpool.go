package utils

import (
	"time"

	"gorm.io/gorm"
)

// OptimizeDBPool 按数据库类型设置连接池
func OptimizeDBPool(db *gorm.DB, dbType string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	if dbType != "mysql" {
		// sqlite 单写者；内存库每个连接都是独立的库，只能有一个连接
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)
		return nil
	}

	// 设置最大空闲连接数
	// 根据并发量调整,避免频繁创建销毁连接
	sqlDB.SetMaxIdleConns(10)

	// 设置最大打开连接数
	// 避免数据库连接耗尽
	sqlDB.SetMaxOpenConns(50)

	// 设置连接最大生命周期
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 设置连接最大空闲时间
	// 自动清理闲置连接
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	return nil
}
