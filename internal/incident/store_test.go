package incident

import (
	"fmt"
	"testing"

	"github.com/lib/pq"
)

// The insert-race retry in RecordAlarm keys off this classification; a
// wrapped 23505 from the unique open-key index must be recognized, anything
// else must surface as a real error.
func TestUniqueViolationIsDetectedThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("failed to insert incident GET /a::error_rate: %w", &pq.Error{Code: "23505"})
	if !isUniqueViolation(wrapped) {
		t.Fatalf("wrapped 23505 must classify as a unique violation")
	}
	if isUniqueViolation(fmt.Errorf("failed: %w", &pq.Error{Code: "40001"})) {
		t.Fatalf("a serialization failure is not a unique violation")
	}
	if isUniqueViolation(fmt.Errorf("connection refused")) {
		t.Fatalf("a plain error is not a unique violation")
	}
}
