package reputation

import (
	"sort"

	"github.com/dealhub/internal/model"
)

type EventKind string

const (
	MessageSent         EventKind = "MESSAGE_SENT"
	ReactionReceived    EventKind = "REACTION_RECEIVED"
	ThreadReplyReceived EventKind = "THREAD_REPLY_RECEIVED"
	MessagePinned       EventKind = "MESSAGE_PINNED"
	ReplySent           EventKind = "REPLY_SENT"
	DirectMessageSent   EventKind = "DIRECT_MESSAGE_SENT"
	DealShared          EventKind = "DEAL_SHARED"

	// Маркетплейс.
	JobPosted    EventKind = "JOB_POSTED"
	JobCompleted EventKind = "JOB_COMPLETED"
	DealClosed   EventKind = "DEAL_CLOSED"
)

type rule struct {
	xp    int64
	stats []string
}

var rules = map[EventKind]rule{
	MessageSent:         {1, []string{model.StatMessages, model.StatTotalMessages}},
	ReactionReceived:    {2, []string{model.StatReactionsReceived}},
	ThreadReplyReceived: {3, []string{model.StatRepliesReceived}},
	MessagePinned:       {10, []string{model.StatPinnedMessages}},
	ReplySent:           {1, []string{model.StatReplies}},
	DirectMessageSent:   {0, []string{model.StatDirectMessages}},
	DealShared:          {5, []string{model.StatDealsShared}},
	JobPosted:           {5, []string{model.StatJobsPosted}},
	JobCompleted:        {25, []string{model.StatJobsCompleted}},
	DealClosed:          {50, []string{model.StatDealsClosed}},
}

// Points возвращает фиксированный XP события (0 для неизвестных).
func Points(kind EventKind) int64 {
	return rules[kind].xp
}

// StatsFor возвращает счётчики, которые увеличивает событие.
func StatsFor(kind EventKind) []string {
	return append([]string(nil), rules[kind].stats...)
}

// Award описывает, сколько стоит одно событие данного вида.
type Award struct {
	Kind  EventKind `json:"kind"`
	XP    int64     `json:"xp"`
	Stats []string  `json:"stats"`
}

// Awards перечисляет все известные события, отсортированные по виду.
func Awards() []Award {
	out := make([]Award, 0, len(rules))
	for kind := range rules {
		out = append(out, Award{Kind: kind, XP: Points(kind), Stats: StatsFor(kind)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

func Known(kind EventKind) bool {
	_, ok := rules[kind]
	return ok
}

// deltas собирает атомарный набор инкрементов для одного события.
func deltas(kind EventKind) map[string]int64 {
	r := rules[kind]
	d := make(map[string]int64, len(r.stats)+1)
	for _, s := range r.stats {
		d[s]++
	}
	if r.xp != 0 {
		d[model.StatXP] += r.xp
	}
	return d
}
