package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// Webhook is a configured delivery target. Without a project key it belongs
// to the organization as a whole.
type Webhook struct {
	bun.BaseModel `bun:"table:webhooks,alias:w"`

	Key             string    `bun:"key,pk" json:"key"`
	Name            string    `bun:"name,notnull" json:"name"`
	URL             string    `bun:"url,notnull" json:"url"`
	OrganizationKey string    `bun:"organization_key,notnull" json:"organization_key"`
	ProjectKey      string    `bun:"project_key,nullzero" json:"project_key,omitempty"`
	CreatedAt       time.Time `bun:"created_at,notnull" json:"created_at"`
}

// Store is a read-mostly view over configured webhooks.
type Store struct {
	db         bun.IDB
	defaultOrg string
}

func NewStore(db bun.IDB, defaultOrg string) *Store {
	return &Store{db: db, defaultOrg: defaultOrg}
}

// Search lists webhooks in creation order. An empty orgKey means the default
// organization. Without projectKey only organization-level webhooks match.
func (s *Store) Search(ctx context.Context, orgKey, projectKey string) ([]Webhook, error) {
	if orgKey == "" {
		orgKey = s.defaultOrg
	}

	hooks := []Webhook{}
	q := s.db.NewSelect().
		Model(&hooks).
		Where("w.organization_key = ?", orgKey).
		Order("w.created_at", "w.key")

	if projectKey == "" {
		q = q.Where("w.project_key IS NULL")
	} else {
		q = q.Where("w.project_key = ?", projectKey)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("webhook: search: %w", err)
	}
	return hooks, nil
}

func (s *Store) Create(ctx context.Context, w *Webhook) error {
	if w.OrganizationKey == "" {
		w.OrganizationKey = s.defaultOrg
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.NewInsert().Model(w).Exec(ctx); err != nil {
		return fmt.Errorf("webhook: create %s: %w", w.Key, err)
	}
	return nil
}
