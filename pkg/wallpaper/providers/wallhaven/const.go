package wallhaven

// Type is the adapter type name of wallhaven providers.
const Type = "wallhaven"

// Default values for wallhaven.cc image service
const (
	searchPath        = "api/v1/search" // searchPath is the search endpoint relative to the provider address
	sortingRandom     = "random"        // sortingRandom makes every search return a fresh random page
	defaultCategories = "111"           // defaultCategories selects general, anime and people
	defaultPurity     = "100"           // defaultPurity selects SFW only
)
