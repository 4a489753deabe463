package bing

// Bing daily image endpoints.
const (
	DefaultEndpoint = "https://cn.bing.com"                      // DefaultEndpoint is the Bing host used when none is configured
	archivePath     = "/HPImageArchive.aspx?format=js&idx=0&n=1" // archivePath returns today's image metadata
	sourceLabel     = "cn.bing.com"                              // sourceLabel is appended to the copyright line
)
