package utils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	if !IsDuplicateKeyErr(dup) {
		t.Fatalf("expected 1062 to be a duplicate key error")
	}
	if !IsDuplicateKeyErr(fmt.Errorf("insert: %w", dup)) {
		t.Fatalf("expected wrapped 1062 to be a duplicate key error")
	}
	if IsDuplicateKeyErr(&mysql.MySQLError{Number: 1452}) {
		t.Fatalf("1452 is not a duplicate key error")
	}
	if IsDuplicateKeyErr(errors.New("boom")) || IsDuplicateKeyErr(nil) {
		t.Fatalf("plain errors are not duplicate key errors")
	}
}
