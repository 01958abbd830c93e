package wargaming

import "time"

// AccountID is the opaque account identifier issued by the upstream API.
type AccountID int32

// TankID identifies a vehicle in the upstream encyclopedia.
type TankID int32

// Statistics is the cumulative counter set the upstream reports for an
// account or a single vehicle.
type Statistics struct {
	Battles         int32 `json:"battles"`
	Wins            int32 `json:"wins"`
	SurvivedBattles int32 `json:"survived_battles"`
	DamageDealt     int32 `json:"damage_dealt"`
	DamageReceived  int32 `json:"damage_received"`
	Shots           int32 `json:"shots"`
	Hits            int32 `json:"hits"`
	Frags           int32 `json:"frags"`
	XP              int32 `json:"xp"`
}

// AccountInfo is one account's summary as returned by the batched
// account/info endpoint.
type AccountInfo struct {
	ID             AccountID
	Nickname       string
	CreatedAt      time.Time
	LastBattleTime time.Time
	Stats          Statistics
}

// TankStats is one vehicle's cumulative counters.
type TankStats struct {
	TankID         TankID
	LastBattleTime time.Time
	BattleLifeTime time.Duration
	All            Statistics
}

// TankAchievements is one vehicle's achievement counters.
type TankAchievements struct {
	TankID       TankID
	Achievements map[string]int32
	MaxSeries    map[string]int32
}

// Tank joins a vehicle's statistics with its achievements.
type Tank struct {
	TankID         TankID
	LastBattleTime time.Time
	BattleLifeTime time.Duration
	All            Statistics
	Achievements   map[string]int32
	MaxSeries      map[string]int32
}

// Wire shapes. Timestamps come down as Unix seconds.

type accountInfoWire struct {
	AccountID      AccountID `json:"account_id"`
	Nickname       string    `json:"nickname"`
	CreatedAt      int64     `json:"created_at"`
	LastBattleTime int64     `json:"last_battle_time"`
	Statistics     struct {
		All Statistics `json:"all"`
	} `json:"statistics"`
}

func (w *accountInfoWire) toAccountInfo() *AccountInfo {
	return &AccountInfo{
		ID:             w.AccountID,
		Nickname:       w.Nickname,
		CreatedAt:      time.Unix(w.CreatedAt, 0).UTC(),
		LastBattleTime: time.Unix(w.LastBattleTime, 0).UTC(),
		Stats:          w.Statistics.All,
	}
}

type tankStatsWire struct {
	TankID         TankID     `json:"tank_id"`
	LastBattleTime int64      `json:"last_battle_time"`
	BattleLifeTime int64      `json:"battle_life_time"`
	All            Statistics `json:"all"`
}

func (w *tankStatsWire) toTankStats() TankStats {
	return TankStats{
		TankID:         w.TankID,
		LastBattleTime: time.Unix(w.LastBattleTime, 0).UTC(),
		BattleLifeTime: time.Duration(w.BattleLifeTime) * time.Second,
		All:            w.All,
	}
}

type tankAchievementsWire struct {
	TankID       TankID           `json:"tank_id"`
	Achievements map[string]int32 `json:"achievements"`
	MaxSeries    map[string]int32 `json:"max_series"`
}
