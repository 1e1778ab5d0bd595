package ids

import "testing"

func TestNew_Monotonic(t *testing.T) {
	prev := New()
	for i := 0; i < 1000; i++ {
		next := New()
		if next <= prev {
			t.Fatalf("id %d not increasing: %s <= %s", i, next, prev)
		}
		prev = next
	}
}

func TestValid(t *testing.T) {
	if !Valid(New()) {
		t.Error("fresh id should be valid")
	}
	if Valid("not-a-ulid") {
		t.Error("garbage should be invalid")
	}
}
