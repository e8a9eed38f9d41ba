package domain

// RiskConfig selects where denylist and seen-card membership live.
type RiskConfig struct {
	// Type is "repository" (same store as tap records) or "redis"
	Type string `yaml:"type"`

	// Redis settings (Pro tier)
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"-"`
	RedisDB       int    `yaml:"redis_db"`

	// LocalMemoSize bounds the in-process memo of positive denylist and
	// seen-card hits. Zero disables it. Both sets only grow, so a memoized
	// hit never goes stale.
	LocalMemoSize int `yaml:"local_memo_size"`
}
