package config

// Version is the CRM server version.
// Set at build time via: -ldflags "-X github.com/estatedesk/crm/internal/config.Version=<tag>"
var Version = "dev"
