package db

import (
	"errors"
	"strings"

	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint violation. When
// constraintName is set the violated constraint must match it. sqlite errors are
// matched on their message.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if pkgerrors.PGCode(err) == pgUniqueViolation {
		if constraintName == "" {
			return true
		}
		return pkgerrors.Dump(err).PGConstraint == constraintName
	}
	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") && !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	return constraintName == "" || strings.Contains(msg, constraintName)
}

// IsNotFound reports gorm's record-not-found sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
