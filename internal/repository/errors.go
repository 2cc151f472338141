package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stemsi/exstem-proctor/internal/apperr"
)

// PostgreSQL error codes the repositories translate.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// mapError translates driver errors into domain kinds.
// notFound is used as the message when the query returned no rows.
func mapError(err error, op, notFound string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("%s", notFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return &apperr.Error{Kind: apperr.KindConflict, Message: conflictMessage(pgErr), Err: err}
		case pgForeignKeyViolation:
			return &apperr.Error{Kind: apperr.KindNotFound, Message: notFound, Err: err}
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%s: %w: %v", op, apperr.ErrTxConflict, err)
		}
	}
	return apperr.Internal(err, "%s", op)
}

func conflictMessage(pgErr *pgconn.PgError) string {
	switch pgErr.ConstraintName {
	case "exams_org_schedule_key":
		return "an exam is already scheduled at this date and time"
	case "questions_exam_title_key":
		return "a question with this title already exists in the exam"
	default:
		return "resource already exists"
	}
}
