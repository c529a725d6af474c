package models

import "github.com/remlabs/rem-engine/pkg/apperrors"

// CollectionSpec declares a source collection and its embedding source.
// Each collection declares at most one embeddable field; collections with
// an empty EmbeddableField are never queued for embedding. Fine-grained
// records (moments) are deliberately not embedded directly; only their
// consolidated session summaries are, which bounds embedding volume.
type CollectionSpec struct {
	Name            string
	EmbeddableField string
}

// Collections is the closed registry of source collections.
var Collections = map[string]CollectionSpec{
	CollectionOntologyPages: {Name: CollectionOntologyPages, EmbeddableField: FieldContent},
	CollectionSchemas:       {Name: CollectionSchemas, EmbeddableField: FieldContent},
	CollectionSessions:      {Name: CollectionSessions, EmbeddableField: FieldSummary},
	CollectionMoments:       {Name: CollectionMoments, EmbeddableField: ""},
	CollectionResources:     {Name: CollectionResources, EmbeddableField: FieldContent},
}

// Source collection names.
const (
	CollectionOntologyPages = "ontology_pages"
	CollectionSchemas       = "schemas"
	CollectionSessions      = "sessions"
	CollectionMoments       = "moments"
	CollectionResources     = "resources"
)

// CollectionByName resolves a collection spec, returning ErrConfiguration
// for names outside the registry.
func CollectionByName(name string) (CollectionSpec, error) {
	spec, ok := Collections[name]
	if !ok {
		return CollectionSpec{}, apperrors.ErrConfiguration
	}
	return spec, nil
}
