package tools

import (
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"aichat-backend/internal/config"
)

// googleOptions builds client options from a tool's static access token and
// optional endpoint override. extra options are appended and win.
func googleOptions(cfg config.GoogleToolConfig, extra []option.ClientOption) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.AccessToken != "" {
		opts = append(opts, option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken})))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	return append(opts, extra...)
}
