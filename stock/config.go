package stock

// Config carries service configuration. It is populated from config.yaml
// merged with environment overrides in the cli package.
type Config struct {
	Port string `json:"port" yaml:"port"`

	// Either a full database url (postgres) or a sqlite file path.
	DatabaseURL    string `json:"db_url" yaml:"db_url"`
	DatabasePath   string `json:"db_path" yaml:"db_path"`
	DatabaseDriver string `json:"db_driver" yaml:"db_driver"`

	RedisAddress  string `json:"redis_address" yaml:"redis_address"`
	RedisPassword string `json:"redis_password" yaml:"redis_password"`

	MailHost     string `json:"mail_host" yaml:"mail_host"`
	MailPort     string `json:"mail_port" yaml:"mail_port"`
	MailFrom     string `json:"mail_from" yaml:"mail_from"`
	MailUsername string `json:"mail_username" yaml:"mail_username"`
	MailPassword string `json:"mail_password" yaml:"mail_password"`

	// StockAdminEmail receives out-of-stock notifications.
	StockAdminEmail string `json:"stock_admin_email" yaml:"stock_admin_email"`

	IsDebug bool `json:"is_debug" yaml:"is_debug"`
}

// Defaults fills in anything the config file left empty.
func (c *Config) Defaults() {
	if c.Port == "" {
		c.Port = ":8080"
	}
	if c.DatabasePath == "" && c.DatabaseURL == "" {
		c.DatabasePath = "allocation.db"
	}
	if c.RedisAddress == "" {
		c.RedisAddress = "localhost:6379"
	}
	if c.MailFrom == "" {
		c.MailFrom = "allocations@example.com"
	}
	if c.StockAdminEmail == "" {
		c.StockAdminEmail = "stock@example.com"
	}
}
