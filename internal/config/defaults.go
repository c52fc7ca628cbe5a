package config

// Defaults applied after parsing. Zero values in the file take these instead.
const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 8700
	DefaultRootDir         = "./vault"
	DefaultKeyPath         = "./vault.key"
	DefaultMaxUploadMB     = 500
	DefaultDatabasePath    = "./kura.db"
	DefaultDimensions      = 384
	DefaultMaxTokens       = 256
	DefaultCacheSize       = 1024
	DefaultSearchLimit     = 100
	DefaultMaxSearchLimit  = 500
	DefaultTopK            = 10
	DefaultDebounceSeconds = 5
)

// ApplyDefaults fills unset fields in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Vault.RootDir == "" {
		cfg.Vault.RootDir = DefaultRootDir
	}
	if cfg.Vault.KeyPath == "" {
		cfg.Vault.KeyPath = DefaultKeyPath
	}
	if cfg.Vault.MaxUploadMB <= 0 {
		cfg.Vault.MaxUploadMB = DefaultMaxUploadMB
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = DefaultDatabasePath
	}
	if cfg.Embedding.Dimensions <= 0 {
		cfg.Embedding.Dimensions = DefaultDimensions
	}
	if cfg.Embedding.MaxTokens <= 0 {
		cfg.Embedding.MaxTokens = DefaultMaxTokens
	}
	if cfg.Embedding.CacheSize <= 0 {
		cfg.Embedding.CacheSize = DefaultCacheSize
	}
	if cfg.Search.DefaultLimit <= 0 {
		cfg.Search.DefaultLimit = DefaultSearchLimit
	}
	if cfg.Search.MaxLimit <= 0 {
		cfg.Search.MaxLimit = DefaultMaxSearchLimit
	}
	if cfg.Search.TopK <= 0 {
		cfg.Search.TopK = DefaultTopK
	}
	if cfg.Reconcile.DebounceSeconds <= 0 {
		cfg.Reconcile.DebounceSeconds = DefaultDebounceSeconds
	}
}
