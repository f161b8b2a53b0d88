package reputation

import "github.com/dealhub/internal/model"

// Badge выдаётся, когда stats[Stat] достигает Threshold. Предикаты смотрят только
// на монотонно растущие счётчики, поэтому значок не отзывается.
type Badge struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Stat        string `json:"stat"`
	Threshold   int64  `json:"threshold"`
}

var badges = []Badge{
	{"first_message", "First Words", "Sent a first message in the community", model.StatTotalMessages, 1},
	{"conversationalist", "Conversationalist", "Sent 100 messages", model.StatTotalMessages, 100},
	{"chatterbox", "Chatterbox", "Sent 1,000 messages", model.StatTotalMessages, 1000},
	{"well_liked", "Well Liked", "Received 25 reactions", model.StatReactionsReceived, 25},
	{"crowd_favorite", "Crowd Favorite", "Received 250 reactions", model.StatReactionsReceived, 250},
	{"helpful", "Helpful", "Wrote 25 thread replies", model.StatReplies, 25},
	{"thread_starter", "Thread Starter", "Started threads that got 10 replies", model.StatRepliesReceived, 10},
	{"pinned", "Pinned", "Had a message pinned", model.StatPinnedMessages, 1},
	{"hall_of_fame", "Hall of Fame", "Had 10 messages pinned", model.StatPinnedMessages, 10},
	{"deal_sharer", "Deal Sharer", "Shared 5 deals", model.StatDealsShared, 5},
	{"deal_maker", "Deal Maker", "Closed a first deal", model.StatDealsClosed, 1},
	{"job_poster", "Job Poster", "Posted a first job", model.StatJobsPosted, 1},
	{"boots_on_ground", "Boots on Ground", "Completed 5 jobs", model.StatJobsCompleted, 5},
}

// Badges возвращает каталог значков.
func Badges() []Badge {
	return append([]Badge(nil), badges...)
}

// ComputeBadges проверяет все предикаты по stats и возвращает id заработанных
// значков в порядке каталога.
func ComputeBadges(stats map[string]int64) []string {
	out := make([]string, 0, len(badges))
	for _, b := range badges {
		if stats[b.Stat] >= b.Threshold {
			out = append(out, b.ID)
		}
	}
	return out
}

func badgeByID(id string) (Badge, bool) {
	for _, b := range badges {
		if b.ID == id {
			return b, true
		}
	}
	return Badge{}, false
}
