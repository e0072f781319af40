package helpers

import "testing"

func TestGenerateCorrelationID(t *testing.T) {
	id1 := GenerateCorrelationID()
	if id1 == "" {
		t.Fatal("expected non-empty id")
	}
	id2 := GenerateCorrelationID()
	if id1 == id2 {
		t.Error("expected unique ids")
	}
}
