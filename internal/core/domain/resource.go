package domain

import "time"

// ResourceType tags what kind of store object a resource is.
type ResourceType string

const (
	ResourceTypeProduct    ResourceType = "product"
	ResourceTypeCollection ResourceType = "collection"
	ResourceTypePage       ResourceType = "page"
	ResourceTypeArticle    ResourceType = "article"
	ResourceTypeBlog       ResourceType = "blog"
	ResourceTypeMenu       ResourceType = "menu"
	ResourceTypeLink       ResourceType = "link"
	ResourceTypeThemeAsset ResourceType = "theme_asset"
	ResourceTypeMetafield  ResourceType = "metafield"
	ResourceTypeShopPolicy ResourceType = "shop_policy"
	ResourceTypeFilter     ResourceType = "filter"
)

// ResourceStatus is the lifecycle status of a resource.
type ResourceStatus string

const (
	ResourceStatusPending    ResourceStatus = "pending"
	ResourceStatusProcessing ResourceStatus = "processing"
	ResourceStatusCompleted  ResourceStatus = "completed"
)

// Resource is a translatable unit of store content.
type Resource struct {
	ID            string
	ShopID        string
	Type          ResourceType
	Fields        map[string]string
	Fingerprint   string
	Status        ResourceStatus
	LastScannedAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ResourceContent is a resource as fetched from upstream, before fingerprinting.
type ResourceContent struct {
	ID        string
	ShopID    string
	Type      ResourceType
	Fields    map[string]string
	UpdatedAt time.Time
}

// ContentLength returns the total number of runes across all fields.
func (r *Resource) ContentLength() int {
	n := 0
	for _, v := range r.Fields {
		n += len([]rune(v))
	}
	return n
}
