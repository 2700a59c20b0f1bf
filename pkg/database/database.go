package database

import (
	"fmt"
	"log"
	"oral_practice_backend/internal/config"
	"oral_practice_backend/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.DBName,
		cfg.Charset,
		cfg.ParseTime,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})

	if err != nil {
		return nil, err
	}

	log.Println("Database connection established")
	return db, nil
}

// Migrate 执行表结构迁移并写入默认题库。release 模式默认跳过，
// 通过 -migrate / -migrate-only 显式触发。
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.User{},
		&model.Question{},
		&model.PracticeSession{},
		&model.QuestionAttempt{},
	)
	if err != nil {
		return err
	}

	log.Println("Database migration completed")

	// 默认练习题库（题库为空时插入每个模块的示例题目）
	var count int64
	db.Model(&model.Question{}).Count(&count)
	if count == 0 {
		defaultQuestions := []model.Question{
			{Module: model.ModulePartA, Title: "自我介绍", Content: "Introduce yourself: your hobbies, your school life, and one thing you are proud of.", PrepSeconds: 30, AnswerSeconds: 60, Order: 1, Enabled: true},
			{Module: model.ModulePartA, Title: "最喜欢的季节", Content: "Which season do you like best? Describe it and explain why.", PrepSeconds: 30, AnswerSeconds: 60, Order: 2, Enabled: true},
			{Module: model.ModulePartB, Title: "公园一角", Content: "Look at the picture and describe what the people in the park are doing.", MediaURL: "/media/pictures/park.jpg", PrepSeconds: 45, AnswerSeconds: 90, Order: 1, Enabled: true},
			{Module: model.ModulePartC, Title: "校园采访-问题1", Content: "According to the video, why did the student join the science club?", MediaURL: "/media/videos/interview.mp4", PrepSeconds: 20, AnswerSeconds: 45, Order: 1, Enabled: true},
			{Module: model.ModulePartC, Title: "校园采访-问题2", Content: "What does the student plan to do next term? Answer based on the video.", MediaURL: "/media/videos/interview.mp4", PrepSeconds: 20, AnswerSeconds: 45, Order: 2, Enabled: true},
		}
		for _, q := range defaultQuestions {
			db.Create(&q)
		}
	}

	return nil
}
