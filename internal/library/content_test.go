package library

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestParseTags(t *testing.T) {
	tags, err := ParseTags([]byte(`{"tags": ["go", " go ", "", "sqlite"]}`))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(tags, ",") != "go,sqlite" {
		t.Fatalf("tags = %v", tags)
	}

	tags, err = ParseTags([]byte(`{"topics": [{"name": "AI"}, {"name": "Podcasts"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(tags, ",") != "AI,Podcasts" {
		t.Fatalf("topic names = %v", tags)
	}

	if _, err := ParseTags([]byte(`[`)); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestExcerpt(t *testing.T) {
	if got := excerpt("  short\n text ", 200); got != "short text" {
		t.Fatalf("excerpt = %q", got)
	}
	long := strings.Repeat("日本語", 100)
	got := excerpt(long, 200)
	if n := utf8.RuneCountInString(got); n != 201 {
		t.Fatalf("rune count = %d", n)
	}
}

func TestSummaryFromRich(t *testing.T) {
	if s, err := summaryFromRich([]byte(`{"tldr": "brief"}`)); err != nil || s != "brief" {
		t.Fatalf("tldr = %q, %v", s, err)
	}
	if s, err := summaryFromRich([]byte(`{"summary": "full", "tldr": "brief"}`)); err != nil || s != "full" {
		t.Fatalf("summary = %q, %v", s, err)
	}
	if _, err := summaryFromRich([]byte(`{"other": 1}`)); err == nil {
		t.Fatal("expected error when no summary key")
	}
}
