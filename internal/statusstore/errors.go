package statusstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// wrapQueryError inspects a SurrealDB error and wraps it with the matching
// package sentinel, for callers that want errors.Is against this package's
// error vocabulary rather than SurrealDB's.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}
	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		if strings.Contains(msg, "already exists") {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, msg)
		}
		if strings.Contains(msg, "Transaction conflict") {
			return fmt.Errorf("%w: %s", ErrVersionConflict, msg)
		}
	}
	return err
}
