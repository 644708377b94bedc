package config

// MailConfig holds SMTP transport settings for transactional email.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// LoadMailConfig reads the SMTP settings.  Host and From are required;
// without them every email path in the system is dead.
func LoadMailConfig() MailConfig {
	return MailConfig{
		Host:     must("SMTP_HOST"),
		Port:     atoi(getenv("SMTP_PORT", "587")),
		Username: getenv("SMTP_USER", ""),
		Password: getenv("SMTP_PASS", ""),
		From:     must("SMTP_FROM"),
	}
}
