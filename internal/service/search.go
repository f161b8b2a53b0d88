package service

import (
	"strings"

	"github.com/dealhub/internal/model"
)

// SearchIndex фильтрует загруженное окно сообщений по подстроке без учёта регистра.
// Это не полнотекстовый индекс, ранжирования нет.
type SearchIndex struct {
	msgs []model.Message
	text []string
}

func NewSearchIndex(msgs []model.Message) *SearchIndex {
	idx := &SearchIndex{msgs: msgs, text: make([]string, len(msgs))}
	for i, m := range msgs {
		var b strings.Builder
		b.WriteString(m.Body)
		b.WriteByte('\n')
		b.WriteString(m.AuthorName)
		for _, a := range m.Attachments {
			b.WriteByte('\n')
			b.WriteString(a.Name)
		}
		if m.DealCard != nil {
			b.WriteByte('\n')
			b.WriteString(m.DealCard.Title)
			b.WriteByte('\n')
			b.WriteString(m.DealCard.Address)
		}
		idx.text[i] = strings.ToLower(b.String())
	}
	return idx
}

// Search сохраняет порядок окна. Пустой запрос ничего не находит, удалённые
// сообщения не находятся никогда.
func (s *SearchIndex) Search(query string) []model.Message {
	q := strings.ToLower(strings.TrimSpace(query))
	out := []model.Message{}
	if q == "" {
		return out
	}
	for i, m := range s.msgs {
		if m.IsDeleted {
			continue
		}
		if strings.Contains(s.text[i], q) {
			out = append(out, m)
		}
	}
	return out
}
