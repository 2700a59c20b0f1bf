// 手动批量导入题库脚本
//
// 默认题库在数据库迁移时自动写入，此脚本用于教师整理好题目清单后
// 一次性导入，例如学期初更换整套题库。
//
// 用法: go run scripts/import_questions.go questions.yaml
//
// 题库文件格式:
//
//	questions:
//	  - module: part_a
//	    title: 自我介绍
//	    content: "Introduce yourself ..."
//	    prep_seconds: 30
//	    answer_seconds: 60
//	    order: 1
package main

import (
	"log"
	"oral_practice_backend/internal/config"
	"oral_practice_backend/internal/model"
	"oral_practice_backend/pkg/database"
	"oral_practice_backend/pkg/logger"
	"os"

	"gopkg.in/yaml.v3"
)

type questionEntry struct {
	Module        string `yaml:"module"`
	Title         string `yaml:"title"`
	Content       string `yaml:"content"`
	MediaURL      string `yaml:"media_url"`
	PrepSeconds   int    `yaml:"prep_seconds"`
	AnswerSeconds int    `yaml:"answer_seconds"`
	Order         int    `yaml:"order"`
	Disabled      bool   `yaml:"disabled"`
}

type questionFile struct {
	Questions []questionEntry `yaml:"questions"`
}

var validModules = map[string]bool{
	string(model.ModulePartA): true,
	string(model.ModulePartB): true,
	string(model.ModulePartC): true,
}

func main() {
	if len(os.Args) < 2 {
		log.Fatal("用法: go run scripts/import_questions.go <题库文件.yaml>")
	}

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		log.Fatalf("无法读取题库文件: %v", err)
	}

	var file questionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		log.Fatalf("解析题库文件失败: %v", err)
	}
	if len(file.Questions) == 0 {
		log.Fatal("题库文件中没有题目")
	}

	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	logger.InitLogger(cfg)

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	imported := 0
	for i, entry := range file.Questions {
		if !validModules[entry.Module] {
			log.Fatalf("第 %d 条题目的模块类型无效: %q", i+1, entry.Module)
		}
		if entry.Content == "" {
			log.Fatalf("第 %d 条题目缺少题干", i+1)
		}

		q := model.Question{
			Module:        model.ModuleType(entry.Module),
			Title:         entry.Title,
			Content:       entry.Content,
			MediaURL:      entry.MediaURL,
			PrepSeconds:   entry.PrepSeconds,
			AnswerSeconds: entry.AnswerSeconds,
			Order:         entry.Order,
			Enabled:       !entry.Disabled,
		}
		if err := db.Create(&q).Error; err != nil {
			log.Fatalf("写入题目失败: %v", err)
		}
		imported++
	}

	log.Printf("题库导入完成，共 %d 条题目", imported)
}
