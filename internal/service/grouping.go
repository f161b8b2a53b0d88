package service

import (
	"time"

	"github.com/dealhub/internal/model"
)

// GroupGap: наибольшая пауза между двумя сообщениями одного автора, при которой
// они ещё показываются одной группой.
const GroupGap = 300 * time.Second

// MessageView: сообщение с пометками для отрисовки.
type MessageView struct {
	model.Message
	// ShowHeader false, если сообщение продолжает группу предыдущего автора.
	ShowHeader bool `json:"show_header"`
	// DayBreak true, если здесь начинается новая дата (в поясе зрителя).
	DayBreak bool `json:"day_break"`
}

// GroupMessages размечает список сообщений по возрастанию. loc nil означает UTC.
func GroupMessages(msgs []model.Message, loc *time.Location) []MessageView {
	if loc == nil {
		loc = time.UTC
	}
	out := make([]MessageView, len(msgs))
	for i, m := range msgs {
		v := MessageView{Message: m, ShowHeader: true, DayBreak: i == 0}
		if i > 0 {
			prev := msgs[i-1]
			v.DayBreak = !sameDay(prev.CreatedAt, m.CreatedAt, loc)
			grouped := prev.AuthorID == m.AuthorID &&
				m.CreatedAt.Sub(prev.CreatedAt) < GroupGap &&
				!v.DayBreak
			v.ShowHeader = !grouped
		}
		out[i] = v
	}
	return out
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
