package cachekey

import "fmt"

// Key namespaces shared by every cache backend.
const (
	UserPrefix        = "user"
	StatsPrefix       = "stats"
	RankPrefix        = "rank"
	LeaderboardPrefix = "leaderboard"
	AdminStats        = "admin:stats"

	// AllLeaderboards matches every cached leaderboard regardless of period or limit.
	AllLeaderboards = LeaderboardPrefix + ":*"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// User returns "user:{accountID}"
func User(accountID string) string {
	return NamespaceKey(UserPrefix, accountID)
}

// Stats returns "stats:{accountID}"
func Stats(accountID string) string {
	return NamespaceKey(StatsPrefix, accountID)
}

// Rank returns "rank:{accountID}"
func Rank(accountID string) string {
	return NamespaceKey(RankPrefix, accountID)
}

// Leaderboard returns "leaderboard:{period}:{limit}"
func Leaderboard(period string, limit int) string {
	return fmt.Sprintf("%s:%s:%d", LeaderboardPrefix, period, limit)
}

// AccountKeys lists every per-account key that must go when the account's activity changes.
func AccountKeys(accountID string) []string {
	return []string{User(accountID), Stats(accountID), Rank(accountID)}
}
