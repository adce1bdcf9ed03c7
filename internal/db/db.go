package db

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var supportedPGQueryKeys = map[string]struct{}{
	"application_name":        {},
	"channel_binding":         {},
	"client_encoding":         {},
	"connect_timeout":         {},
	"default_query_exec_mode": {},
	"gssencmode":              {},
	"host":                    {},
	"keepalives":              {},
	"keepalives_count":        {},
	"keepalives_idle":         {},
	"keepalives_interval":     {},
	"krbsrvname":              {},
	"options":                 {},
	"passfile":                {},
	"service":                 {},
	"sslcert":                 {},
	"sslcrl":                  {},
	"sslkey":                  {},
	"sslmode":                 {},
	"sslpassword":             {},
	"sslrootcert":             {},
	"target_session_attrs":    {},
}

// SQLAlchemy-style driver schemes that Supabase connection strings are
// often copied with.
var driverSchemePrefixes = []string{
	"postgresql+asyncpg://",
	"postgresql+psycopg://",
	"postgresql+psycopg2://",
	"postgresql://",
}

func Connect(ctx context.Context, rawURL string) (*pgxpool.Pool, error) {
	normalized := normalizeDatabaseURL(rawURL)
	cfg, err := pgxpool.ParseConfig(normalized)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConnIdleTime = time.Hour
	return pgxpool.NewWithConfig(ctx, cfg)
}

func normalizeDatabaseURL(rawURL string) string {
	normalized := strings.TrimSpace(rawURL)
	for _, prefix := range driverSchemePrefixes {
		if strings.HasPrefix(normalized, prefix) {
			normalized = "postgres://" + strings.TrimPrefix(normalized, prefix)
			break
		}
	}

	parsed, err := url.Parse(normalized)
	if err != nil {
		return normalized
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return normalized
	}

	queries := parsed.Query()
	filtered := make(url.Values)
	for key, values := range queries {
		if _, ok := supportedPGQueryKeys[key]; ok {
			for _, v := range values {
				filtered.Add(key, v)
			}
		}
	}
	parsed.RawQuery = filtered.Encode()
	return parsed.String()
}
