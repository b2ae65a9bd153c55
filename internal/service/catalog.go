package service

// ContentEntry describes one slug of the content catalog.
type ContentEntry struct {
	Slug      string `json:"slug"`
	Protected bool   `json:"protected"`
}

// Catalog is the fixed set of content slugs and which of them are gated.
type Catalog struct {
	entries   []ContentEntry
	protected map[string]bool
}

// NewCatalog builds a catalog. Protected slugs that are not also listed as
// content are ignored.
func NewCatalog(content, protected []string) *Catalog {
	gated := make(map[string]bool, len(protected))
	for _, s := range protected {
		gated[s] = true
	}

	c := &Catalog{protected: make(map[string]bool, len(content))}
	for _, s := range content {
		if _, dup := c.protected[s]; dup || s == "" {
			continue
		}
		c.protected[s] = gated[s]
		c.entries = append(c.entries, ContentEntry{Slug: s, Protected: gated[s]})
	}
	return c
}

// Known reports whether slug is in the catalog.
func (c *Catalog) Known(slug string) bool {
	_, ok := c.protected[slug]
	return ok
}

// Protected reports whether slug requires a credential.
func (c *Catalog) Protected(slug string) bool {
	return c.protected[slug]
}

// Entries returns the catalog in configuration order.
func (c *Catalog) Entries() []ContentEntry {
	out := make([]ContentEntry, len(c.entries))
	copy(out, c.entries)
	return out
}
