package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestPgErrorClassification(t *testing.T) {
	serialization := fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"})
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})

	if !isSerializationFailure(serialization) {
		t.Fatal("wrapped 40001 must classify as serialization failure")
	}
	if isSerializationFailure(unique) {
		t.Fatal("23505 is not a serialization failure")
	}
	if !isUniqueViolation(unique) {
		t.Fatal("wrapped 23505 must classify as unique violation")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Fatal("plain errors are not unique violations")
	}
	if isSerializationFailure(nil) {
		t.Fatal("nil error must not classify as serialization failure")
	}
}
