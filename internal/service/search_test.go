package service

import (
	"testing"
	"time"

	"github.com/dealhub/internal/model"
)

func TestSearchIndex(t *testing.T) {
	msgs := []model.Message{
		{ID: "1", AuthorName: "Alice", Body: "Looking for a HARD money lender"},
		{ID: "2", AuthorName: "Bob", Body: "anyone used hard money in Ohio?"},
		{ID: "3", AuthorName: "Carol", Body: "old", IsDeleted: true},
		{ID: "4", AuthorName: "Dan", DealCard: &model.DealCard{Title: "Hard Money Flip", Address: "5 Elm"}},
		{ID: "5", AuthorName: "Eve", Attachments: []model.Attachment{{Name: "comps.pdf"}}},
	}
	idx := NewSearchIndex(msgs)
	cases := []struct {
		query string
		want  []string
	}{
		{"hard money", []string{"1", "2", "4"}},
		{"  OHIO ", []string{"2"}},
		{"old", nil},
		{"comps", []string{"5"}},
		{"carol", nil},
		{"", nil},
		{"5 elm", []string{"4"}},
	}
	for _, tc := range cases {
		got := idx.Search(tc.query)
		if len(got) != len(tc.want) {
			t.Errorf("Search(%q) = %v, want %v", tc.query, ids(got), tc.want)
			continue
		}
		for i := range got {
			if got[i].ID != tc.want[i] {
				t.Errorf("Search(%q) = %v, want %v", tc.query, ids(got), tc.want)
				break
			}
		}
	}
}

func TestGroupMessages(t *testing.T) {
	base := time.Date(2026, 3, 10, 23, 50, 0, 0, time.UTC)
	msgs := []model.Message{
		{ID: "a", AuthorID: "u1", CreatedAt: base},
		{ID: "b", AuthorID: "u1", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "c", AuthorID: "u1", CreatedAt: base.Add(7*time.Minute + 1*time.Second)},
		{ID: "d", AuthorID: "u1", CreatedAt: base.Add(11 * time.Minute)},
		{ID: "e", AuthorID: "u2", CreatedAt: base.Add(12 * time.Minute)},
	}
	got := GroupMessages(msgs, time.UTC)
	wantHeader := []bool{true, false, true, true, true}
	wantBreak := []bool{true, false, false, true, false}
	for i, v := range got {
		if v.ShowHeader != wantHeader[i] || v.DayBreak != wantBreak[i] {
			t.Errorf("%s: header=%v break=%v, want %v %v", v.ID, v.ShowHeader, v.DayBreak, wantHeader[i], wantBreak[i])
		}
	}
}

func TestGroupMessagesLocation(t *testing.T) {
	// 23:58 and 00:02 UTC are the same evening in New York
	ny := time.FixedZone("EST", -5*3600)
	base := time.Date(2026, 1, 5, 23, 58, 0, 0, time.UTC)
	msgs := []model.Message{
		{ID: "a", AuthorID: "u1", CreatedAt: base},
		{ID: "b", AuthorID: "u1", CreatedAt: base.Add(4 * time.Minute)},
	}
	if got := GroupMessages(msgs, time.UTC); got[1].ShowHeader != true || !got[1].DayBreak {
		t.Fatalf("utc: %+v", got[1])
	}
	if got := GroupMessages(msgs, ny); got[1].ShowHeader || got[1].DayBreak {
		t.Fatalf("new york: %+v", got[1])
	}
}
