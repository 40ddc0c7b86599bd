package builder

import (
	"github.com/artforge-ai/artforge-api/internal/models"
)

func (b *Builder) WithDatabase(cfg models.DatabaseConfig) *Builder {
	b.cfg.Database = &cfg
	return b
}

// WithAnalyticsDatabase points the event recorder at a separate store,
// typically ClickHouse. Without it analytics rows land in the main database.
func (b *Builder) WithAnalyticsDatabase(cfg models.DatabaseConfig) *Builder {
	b.cfg.Analytics = &cfg
	return b
}
