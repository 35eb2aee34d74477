package wire

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestTokensAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		tok := NewToken()
		if tok == "" {
			t.Fatal("Expected non-empty token")
		}
		if seen[tok] {
			t.Fatalf("Duplicate token: %s", tok)
		}
		seen[tok] = true
	}
}

func TestPageviewOmitsGoalFields(t *testing.T) {
	a := Action{
		Type:       ActionPageview,
		Token:      NewToken(),
		Path:       "/home",
		PageNumber: 1,
		DurationMS: 1200,
	}
	b, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("Failed to marshal action: %v", err)
	}
	for _, field := range []string{"name", "value", "currency", "properties", "timestamp"} {
		if strings.Contains(string(b), `"`+field+`"`) {
			t.Errorf("Expected pageview JSON to omit %q, got: %s", field, b)
		}
	}
}
