package record

import "testing"

func TestTagNameAndValue(t *testing.T) {
	tag := Tag{"p", "abc123", "wss://relay.example"}
	if got := tag.Name(); got != "p" {
		t.Fatalf("Name() = %q, want %q", got, "p")
	}
	if got := tag.Value(1); got != "abc123" {
		t.Fatalf("Value(1) = %q, want %q", got, "abc123")
	}
	if got := tag.Value(2); got != "wss://relay.example" {
		t.Fatalf("Value(2) = %q, want %q", got, "wss://relay.example")
	}
	if got := tag.Value(5); got != "" {
		t.Fatalf("Value(5) out of range = %q, want empty", got)
	}
}

func TestTagNameEmpty(t *testing.T) {
	var tag Tag
	if got := tag.Name(); got != "" {
		t.Fatalf("Name() of empty tag = %q, want empty", got)
	}
}

func TestFirstTagFirstWins(t *testing.T) {
	rec := &Record{
		Tags: []Tag{
			{"d", "first"},
			{"d", "second"},
		},
	}
	tag, ok := rec.FirstTag("d")
	if !ok {
		t.Fatal("FirstTag(d) not found")
	}
	if tag.Value(1) != "first" {
		t.Fatalf("FirstTag(d) = %q, want %q", tag.Value(1), "first")
	}
}

func TestFirstTagMissing(t *testing.T) {
	rec := &Record{Tags: []Tag{{"type", "consensus"}}}
	if _, ok := rec.FirstTag("d"); ok {
		t.Fatal("FirstTag(d) should not be found")
	}
}

func TestAllTagsCollectsInOrder(t *testing.T) {
	rec := &Record{
		Tags: []Tag{
			{"p", "alice"},
			{"type", "consensus"},
			{"p", "bob"},
			{"p", "carol"},
		},
	}
	participants := rec.AllTags("p")
	if len(participants) != 3 {
		t.Fatalf("len(AllTags(p)) = %d, want 3", len(participants))
	}
	want := []string{"alice", "bob", "carol"}
	for i, tag := range participants {
		if tag.Value(1) != want[i] {
			t.Fatalf("AllTags(p)[%d] = %q, want %q", i, tag.Value(1), want[i])
		}
	}
}

func TestCreatedAtTime(t *testing.T) {
	rec := &Record{CreatedAt: 1700000000}
	got := rec.CreatedAtTime()
	if got.Unix() != 1700000000 {
		t.Fatalf("CreatedAtTime().Unix() = %d, want 1700000000", got.Unix())
	}
	if got.Location().String() != "UTC" {
		t.Fatalf("CreatedAtTime() location = %s, want UTC", got.Location())
	}
}
