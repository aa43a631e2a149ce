package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the configuration for a given mode ("run" or "serve").
// Standalone mode relaxes the record-store requirements so the pipeline can
// run without touching the master base.
func (c *Config) Validate(mode string) error {
	var problems []string

	need := func(val, name string) {
		if val == "" {
			problems = append(problems, name+" is required")
		}
	}

	switch mode {
	case "run":
		if !c.Standalone {
			need(c.Airtable.APIKey, "airtable.api_key")
			need(c.Airtable.BaseID, "airtable.base_id")
		}
		need(c.Gemini.APIKey, "gemini.api_key")
	case "serve":
		if !c.Standalone {
			need(c.Airtable.APIKey, "airtable.api_key")
			need(c.Airtable.BaseID, "airtable.base_id")
		}
		need(c.Gemini.APIKey, "gemini.api_key")
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Schedule.Cron == "" {
			problems = append(problems, "schedule.cron is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite":
		need(c.Store.Path, "store.path")
	case "postgres":
		need(c.Store.DatabaseURL, "store.database_url")
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if c.Airtable.RateLimitRPS <= 0 {
		problems = append(problems, "airtable.rate_limit_rps must be > 0")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}
