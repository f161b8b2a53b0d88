// Package reputation вычисляет ранги и значки из статистики активности
// и начисляет XP в хранилище профилей.
package reputation

import "github.com/dealhub/internal/model"

type tier struct {
	name  string
	xp    int64
	color string
}

// tiers отсортированы по xp по возрастанию; первый ранг начинается с 0.
var tiers = []tier{
	{"Rookie", 0, "#9ca3af"},
	{"Scout", 100, "#60a5fa"},
	{"Bird Dog", 250, "#34d399"},
	{"Deal Hunter", 500, "#a3e635"},
	{"Closer", 1000, "#facc15"},
	{"Investor", 2500, "#fb923c"},
	{"Mogul", 5000, "#f472b6"},
	{"Legend", 10000, "#a78bfa"},
}

// ComputeRank сопоставляет XP рангу. Отрицательный XP считается за 0.
func ComputeRank(xp int64) model.Rank {
	if xp < 0 {
		xp = 0
	}
	idx := 0
	for i, t := range tiers {
		if xp >= t.xp {
			idx = i
		}
	}
	cur := tiers[idx]
	r := model.Rank{
		Name:       cur.name,
		Level:      idx + 1,
		Color:      cur.color,
		XPRequired: cur.xp,
	}
	if idx+1 < len(tiers) {
		next := tiers[idx+1]
		r.Next = &model.NextRank{Name: next.name, XPRequired: next.xp, XPToGo: next.xp - xp}
	}
	return r
}

// Ranks возвращает всю таблицу рангов, начиная с младшего.
func Ranks() []model.Rank {
	out := make([]model.Rank, len(tiers))
	for i, t := range tiers {
		out[i] = ComputeRank(t.xp)
	}
	return out
}

// Decorate заполняет производные поля p по его статистике.
func Decorate(p *model.UserProfile) {
	if p == nil {
		return
	}
	if p.Stats == nil {
		p.Stats = map[string]int64{}
	}
	p.XP = p.Stats[model.StatXP]
	p.Rank = ComputeRank(p.XP)
	if p.Badges == nil {
		p.Badges = []string{}
	}
}
