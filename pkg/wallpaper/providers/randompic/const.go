package randompic

// Adapter type names as they appear in the provider config.
const (
	TypeV1 = "randomPicV1" // TypeV1 is the original single-folder randomPic server
	TypeV2 = "randomPicV2" // TypeV2 is the collection aware randomPic server
)

// Endpoint paths relative to the provider address.
const (
	v1RandomPath   = "random"
	v1PicPath      = "pic"
	v2RandomPath   = "random-picture"
	v2PicturesPath = "pictures"
)

// v2OK is the only response code the v2 server uses for success.
const v2OK = 200

// collectionSeparator joins requested collections in the v2 query.
const collectionSeparator = "|"
