package chapter

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSurvivingChapters is returned when a renumbering would run against an empty chapter set.
	ErrNoSurvivingChapters = errors.New("no surviving chapters")

	// ErrProvisioning is returned when a detail view could not be created. Every view created
	// earlier in the same batch has been removed again.
	ErrProvisioning = errors.New("detail view provisioning failed")

	// ErrSweepPersistence is returned when a map could not be saved during a marker sweep.
	// Maps saved before the failure stay saved.
	ErrSweepPersistence = errors.New("marker sweep persistence failed")

	// ErrOverviewNotFound is returned when a project has no chapter overview yet.
	ErrOverviewNotFound = errors.New("chapter overview not found")
)

// Code is a machine-readable validation error code.
type Code string

const (
	CodeChapterNotEmpty        Code = "CHAPTER_NOT_EMPTY"
	CodeAllChaptersDeleted     Code = "ALL_CHAPTERS_DELETED"
	CodeDuplicateChapterNumber Code = "DUPLICATE_CHAPTER_NUMBER"
	CodeDuplicateChapterID     Code = "DUPLICATE_CHAPTER_ID"
	CodeMissingChapterID       Code = "MISSING_CHAPTER_ID"
	CodeInvalidChapterNumber   Code = "INVALID_CHAPTER_NUMBER"
	CodeChapterStillExists     Code = "CHAPTER_STILL_EXISTS"
)

// ValidationError rejects a request before anything was written.
type ValidationError struct {
	Code          Code
	ChapterName   string
	ChapterNumber int
	DetailViewID  string
}

func (e *ValidationError) Error() string {
	switch e.Code {
	case CodeChapterNotEmpty:
		return fmt.Sprintf("chapter %q can not be deleted: detail view %s is not empty", e.ChapterName, e.DetailViewID)
	case CodeAllChaptersDeleted:
		return "a chapter overview can not delete every chapter"
	case CodeDuplicateChapterNumber:
		return fmt.Sprintf("chapter number %d is used more than once", e.ChapterNumber)
	case CodeDuplicateChapterID:
		return fmt.Sprintf("chapter %q is listed more than once", e.ChapterName)
	case CodeMissingChapterID:
		return fmt.Sprintf("chapter %q has no id", e.ChapterName)
	case CodeInvalidChapterNumber:
		return fmt.Sprintf("chapter %q has invalid number %d", e.ChapterName, e.ChapterNumber)
	case CodeChapterStillExists:
		return fmt.Sprintf("chapter number %d still exists", e.ChapterNumber)
	}
	return string(e.Code)
}

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// AsValidation returns the *ValidationError carried by err, or nil.
func AsValidation(err error) *ValidationError {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	return nil
}
