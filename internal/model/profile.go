package model

import "time"

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Имена счётчиков в UserProfile.Stats.
const (
	StatXP                = "communityXp"
	StatMessages          = "messages"
	StatTotalMessages     = "totalMessages"
	StatReactionsReceived = "totalReactionsReceived"
	StatRepliesReceived   = "totalRepliesReceived"
	StatReplies           = "totalReplies"
	StatPinnedMessages    = "totalPinnedMessages"
	StatDirectMessages    = "totalDirectMessages"
	StatDealsShared       = "dealsShared"
	StatJobsPosted        = "jobsPosted"
	StatJobsCompleted     = "jobsCompleted"
	StatDealsClosed       = "dealsClosed"
)

// NextRank описывает ранг, следующий за текущим.
type NextRank struct {
	Name       string `json:"name"`
	XPRequired int64  `json:"xp_required"`
	XPToGo     int64  `json:"xp_to_go"`
}

type Rank struct {
	Name       string    `json:"name"`
	Level      int       `json:"level"`
	Color      string    `json:"color"`
	XPRequired int64     `json:"xp_required"`
	Next       *NextRank `json:"next,omitempty"`
}

// UserProfile: каноническая запись пользователя. Rank не хранится:
// он вычисляется при чтении из XP.
type UserProfile struct {
	ID          string           `json:"id"`
	DisplayName string           `json:"display_name"`
	AvatarURL   string           `json:"avatar_url,omitempty"`
	Role        Role             `json:"role"`
	Stats       map[string]int64 `json:"stats"`
	XP          int64            `json:"community_xp"`
	Rank        Rank             `json:"rank"`
	Badges      []string         `json:"community_badges"`
	CreatedAt   time.Time        `json:"created_at"`
}

func (p *UserProfile) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}
