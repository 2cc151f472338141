package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// seedFile describes one exam with its organization, questions and
// entitled students.
type seedFile struct {
	Organization model.Organization         `json:"organization"`
	Exam         model.CreateExamRequest    `json:"exam"`
	Questions    []model.AddQuestionRequest `json:"questions"`
	StudentIDs   []int                      `json:"student_ids"`
}

func main() {
	var path string
	flag.StringVar(&path, "file", "seed/exam.json", "Path to the exam seed JSON")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	validator.Setup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	seed, err := readSeed(path)
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("Failed to read seed file")
	}

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	examService := service.NewExamService(examRepo, questionRepo, nil, nil, log)

	fmt.Printf("=== Seeding exam %q for %s ===\n", seed.Exam.Title, seed.Organization.Name)

	if err := examRepo.UpsertOrganization(ctx, &seed.Organization); err != nil {
		log.Fatal().Err(err).Msg("Failed to upsert organization")
	}

	exam, err := examService.CreateExam(ctx, seed.Organization.ID, &seed.Exam)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam")
	}
	fmt.Printf("Created exam with ID: %s\n", exam.ID)

	successCount := 0
	for i := range seed.Questions {
		q, err := examService.AddQuestion(ctx, seed.Organization.ID, exam.ID, &seed.Questions[i])
		if err != nil {
			fmt.Printf("Error adding question %q: %v\n", seed.Questions[i].Title, err)
			continue
		}
		successCount++
		fmt.Printf("  + %s (%d pts) %s\n", q.Title, q.Points, q.ID)
	}

	added := 0
	if len(seed.StudentIDs) > 0 {
		added, err = examService.AddStudents(ctx, seed.Organization.ID, exam.ID, seed.StudentIDs)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to entitle students")
		}
	}

	fmt.Printf("\nSeed completed! %d/%d questions, %d students entitled.\n",
		successCount, len(seed.Questions), added)
}

func readSeed(path string) (*seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	if seed.Organization.ID <= 0 || seed.Organization.Name == "" {
		return nil, fmt.Errorf("organization id and name are required")
	}
	if err := binding.Validator.ValidateStruct(&seed.Exam); err != nil {
		return nil, fmt.Errorf("exam: %v", validator.TranslateErrors(err))
	}
	for i := range seed.Questions {
		if err := binding.Validator.ValidateStruct(&seed.Questions[i]); err != nil {
			return nil, fmt.Errorf("question %d: %v", i+1, validator.TranslateErrors(err))
		}
	}
	return &seed, nil
}
