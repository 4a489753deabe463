package pexels

// Type is the adapter type name of Pexels providers.
const Type = "pexels"

// Pexels API paths and defaults
const (
	searchPath     = "v1/search" // searchPath is the search endpoint relative to the provider address
	defaultQuery   = "nature"    // defaultQuery is used when a provider entry names no query
	defaultMaxPage = 50          // defaultMaxPage bounds the random page of a search
	perPage        = 1           // perPage keeps the metadata call to a single photo
)
