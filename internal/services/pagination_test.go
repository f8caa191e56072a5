package services

import (
	"errors"
	"testing"
	"time"

	"github.com/boomerdev01-max/linkaia-sub001/internal/models"
)

func TestNormalizeLimit(t *testing.T) {
	tests := map[int]int{
		-5:  DefaultPageLimit,
		0:   DefaultPageLimit,
		1:   1,
		20:  20,
		50:  50,
		51:  MaxPageLimit,
		999: MaxPageLimit,
	}
	for input, want := range tests {
		if got := NormalizeLimit(input); got != want {
			t.Fatalf("NormalizeLimit(%d) = %d, want %d", input, got, want)
		}
	}
}

func TestParseCursor(t *testing.T) {
	id, err := ParseCursor("")
	if err != nil || id != nil {
		t.Fatalf("expected empty cursor to mean newest, got %v %v", id, err)
	}

	id, err = ParseCursor(" 42 ")
	if err != nil || id == nil || *id != 42 {
		t.Fatalf("expected 42, got %v %v", id, err)
	}

	for _, raw := range []string{"abc", "-1", "0", "1.5"} {
		if _, err := ParseCursor(raw); !errors.Is(err, ErrValidation) {
			t.Fatalf("ParseCursor(%q): expected validation error, got %v", raw, err)
		}
	}
}

func TestTrimPage(t *testing.T) {
	rows := make([]models.StoredMessage, 0, 4)
	for id := int64(4); id >= 1; id-- {
		rows = append(rows, models.StoredMessage{ID: id, CreatedAt: time.Unix(id, 0)})
	}

	page, hasMore, cursor := trimPage(rows, 3)
	if !hasMore || len(page) != 3 || cursor == nil || *cursor != "2" {
		t.Fatalf("expected 3 rows with cursor 2, got %d rows hasMore=%v cursor=%v", len(page), hasMore, cursor)
	}

	page, hasMore, cursor = trimPage(rows[:3], 3)
	if hasMore || len(page) != 3 || cursor != nil {
		t.Fatalf("expected final page without cursor, got hasMore=%v cursor=%v", hasMore, cursor)
	}

	page, hasMore, cursor = trimPage(nil, 20)
	if hasMore || len(page) != 0 || cursor != nil {
		t.Fatalf("expected empty page, got %v %v %v", page, hasMore, cursor)
	}
}

func TestChronologicalReversesWindow(t *testing.T) {
	window := []models.Message{{ID: 3}, {ID: 2}, {ID: 1}}
	ordered := Chronological(window)
	if ordered[0].ID != 1 || ordered[2].ID != 3 {
		t.Fatalf("expected oldest first, got %+v", ordered)
	}
	if window[0].ID != 3 {
		t.Fatalf("expected input untouched")
	}
}

func TestAppErrorMatchesByCode(t *testing.T) {
	if !errors.Is(ErrEditWindowExpired, ErrForbidden) {
		t.Fatalf("expected refined error to match its base code")
	}
	if errors.Is(ErrEditWindowExpired, ErrValidation) {
		t.Fatalf("expected codes to be distinct")
	}

	wrapped := ErrUpload.Wrap(errors.New("bucket gone"))
	if CodeOf(wrapped) != CodeUpload || MessageOf(wrapped) != "upload failed" {
		t.Fatalf("unexpected wrapped error %v", wrapped)
	}
	if CodeOf(errors.New("boom")) != CodeInternal {
		t.Fatalf("expected plain errors to be internal")
	}
}
