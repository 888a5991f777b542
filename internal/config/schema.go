package config

// Config is the top-level YAML structure.
type Config struct {
	Version   string        `yaml:"version"`
	Engine    EngineConf    `yaml:"engine"`
	Reasoning ReasoningConf `yaml:"reasoning"`
	Storage   StorageConf   `yaml:"storage"`
	Knowledge KnowledgeConf `yaml:"knowledge"`
	Protocol  ProtocolConf  `yaml:"protocol"`
}

// EngineConf holds tunable concurrency settings for the dispatcher.
type EngineConf struct {
	SwarmWorkers int `yaml:"swarm_workers"`
	QueueDepth   int `yaml:"queue_depth"`
}

// ReasoningConf selects and configures the text-completion backend.
type ReasoningConf struct {
	Backend   string `yaml:"backend"` // "canned" or "http"
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// StorageConf selects the record store backend.
type StorageConf struct {
	Backend    string `yaml:"backend"` // "memory", "sqlite", or "redis"
	SQLitePath string `yaml:"sqlite_path"`
	RedisAddr  string `yaml:"redis_addr"`
	RedisDB    int    `yaml:"redis_db"`
}

// KnowledgeConf lists the clinical trial result documents aggregated into
// the risk-scoring reference sets.
type KnowledgeConf struct {
	Sources []string `yaml:"sources"`
}

// ProtocolConf holds the exclusion rules cited by the recommendation
// stage. Edits to this section take effect on config reload.
type ProtocolConf struct {
	Rules []string `yaml:"rules"`
}
