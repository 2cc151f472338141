package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// history prints a student's exam history, or one result in detail when
// -exam is given.
func main() {
	var (
		studentID int
		examArg   string
	)
	flag.IntVar(&studentID, "student", 0, "Student ID")
	flag.StringVar(&examArg, "exam", "", "Exam ID to show the full result of")
	flag.Parse()

	if studentID <= 0 {
		color.Red("-student is required")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	results := service.NewResultService(
		repository.NewExamRepository(pool),
		repository.NewQuestionRepository(pool),
		repository.NewAttemptRepository(pool),
		service.NewAttemptLocks(),
		nil,
		cfg.ReconcileMaxRetries,
		log,
	)

	if examArg != "" {
		examID, err := uuid.Parse(examArg)
		if err != nil {
			color.Red("Invalid exam ID: %v", err)
			os.Exit(2)
		}
		view, err := results.GetResult(ctx, studentID, examID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load result")
		}
		printResult(view)
		return
	}

	history, err := results.GetHistory(ctx, studentID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load history")
	}
	printHistory(studentID, history)
}

func printHistory(studentID int, history []model.HistoryEntry) {
	color.Cyan("\n=== Exam History of Student %d ===", studentID)
	if len(history) == 0 {
		color.Yellow("No answered exams.")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Date", "Exam", "Organization", "Duration", "Answered", "Score"})
	for _, h := range history {
		date := "-"
		if h.ExamDate != nil {
			date = h.ExamDate.Local().Format("2006-01-02 15:04")
		}
		table.Append([]string{
			date,
			h.ExamTitle,
			h.OrganizationName,
			fmt.Sprintf("%d min", h.DurationMinutes),
			strconv.Itoa(h.QuestionCount),
			strconv.Itoa(h.Score),
		})
	}
	table.Render()
}

func printResult(v *model.ResultView) {
	color.Cyan("\n=== %s ===", v.Exam.Title)
	fmt.Printf("Score: %d / %d   Solved: %d / %d   ",
		v.Result.ExamScore, v.TotalPoints, v.Result.SolvedCount, v.QuestionCount)
	statusColor(v.Result.Status).Println(string(v.Result.Status))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "Question", "Difficulty", "Answer", "Correct", "Marks"})
	for _, q := range v.Questions {
		correct := ""
		if q.IsAnswered {
			correct = "no"
			if q.IsCorrect {
				correct = "yes"
			}
		}
		table.Append([]string{
			strconv.Itoa(q.OrderNum),
			q.Title,
			string(q.Difficulty),
			q.AnswerText,
			correct,
			fmt.Sprintf("%d/%d", q.AnswerMarks, q.Points),
		})
	}
	table.Render()
}

func statusColor(s model.ResultStatus) *color.Color {
	switch s {
	case model.ResultStatusPassed:
		return color.New(color.FgGreen, color.Bold)
	case model.ResultStatusFailed:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgYellow)
	}
}
