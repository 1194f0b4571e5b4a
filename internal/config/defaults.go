package config

const (
	defaultConfigPath             = "~/.config/bookdrop/config.toml"
	defaultStateDir               = "~/.local/share/bookdrop"
	defaultDownloadDir            = "~/.local/share/bookdrop/downloads"
	defaultLogDir                 = "~/.local/share/bookdrop/logs"
	defaultWishlistMaxPages       = 20
	defaultWishlistIntervalMS     = 2000
	defaultWishlistRequestTimeout = 30
	defaultCatalogBaseURL         = "https://libgen.li"
	defaultCatalogMinSimilarity   = 0.55
	defaultCatalogRequestTimeout  = 30
	defaultCatalogIntervalMS      = 1000
	defaultCatalogMaxRetries      = 3
	defaultCacheTTLHours          = 24
	minCacheTTLHours              = 1
	maxCacheTTLHours              = 168
	defaultSMTPPort               = 587
	defaultMaxAttachmentMB        = 25
	defaultSendTimeout            = 60
	defaultNotifyRequestTimeout   = 10
	defaultNotifyFailureThreshold = 3
	defaultWorkflowStageTimeout   = 120
	defaultWorkflowFetchTimeout   = 300
	defaultWorkflowMaxDownloadMB  = 100
	defaultLogFormat              = "auto"
	defaultLogLevel               = "info"
	defaultLogStreamCapacity      = 100
)

var defaultPreferredFormats = []string{"epub", "pdf", "mobi"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:    defaultStateDir,
			DownloadDir: defaultDownloadDir,
			LogDir:      defaultLogDir,
		},
		Wishlist: Wishlist{
			MaxPages:          defaultWishlistMaxPages,
			RequestIntervalMS: defaultWishlistIntervalMS,
			RequestTimeout:    defaultWishlistRequestTimeout,
		},
		Catalog: Catalog{
			BaseURL:           defaultCatalogBaseURL,
			PreferredFormats:  append([]string(nil), defaultPreferredFormats...),
			MinSimilarity:     defaultCatalogMinSimilarity,
			RequestTimeout:    defaultCatalogRequestTimeout,
			RequestIntervalMS: defaultCatalogIntervalMS,
			MaxRetries:        defaultCatalogMaxRetries,
		},
		Cache: Cache{
			TTLHours: defaultCacheTTLHours,
		},
		Delivery: Delivery{
			SMTPPort:        defaultSMTPPort,
			UseStartTLS:     true,
			MaxAttachmentMB: defaultMaxAttachmentMB,
			SendTimeout:     defaultSendTimeout,
		},
		Notifications: Notifications{
			RequestTimeout:   defaultNotifyRequestTimeout,
			FailureThreshold: defaultNotifyFailureThreshold,
		},
		Workflow: Workflow{
			StageTimeout:  defaultWorkflowStageTimeout,
			FetchTimeout:  defaultWorkflowFetchTimeout,
			MaxDownloadMB: defaultWorkflowMaxDownloadMB,
		},
		Logging: Logging{
			Format:         defaultLogFormat,
			Level:          defaultLogLevel,
			StreamCapacity: defaultLogStreamCapacity,
		},
	}
}
