package search

import (
	"github.com/kailas-cloud/textdex/internal/domain/collection"
	"github.com/kailas-cloud/textdex/internal/index"
	"github.com/kailas-cloud/textdex/internal/usecase/curation"
)

// CollectionReader resolves collection runtimes by name.
type CollectionReader interface {
	Get(name string) (*index.Collection, error)
}

// SynonymReducer rewrites token sequences into equivalent reduced forms.
type SynonymReducer interface {
	Reduce(collectionName string, tokens []string) [][]string
}

// OverrideApplier evaluates curation rules against candidate queries.
type OverrideApplier interface {
	Apply(collectionName string, schema collection.Schema, candidates [][]string) curation.Outcome
}
