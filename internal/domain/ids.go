package domain

import "net/url"

// NormalizeConvID returns the canonical, decoded form of a conversation ID.
// Route layers hand us IDs that may be URL-encoded (phone-number IDs carry
// '+' and '@'); everything past the transport boundary compares and stores
// the decoded form only. An ID that does not parse as an escaped string is
// returned as-is.
func NormalizeConvID(id string) string {
	decoded, err := url.PathUnescape(id)
	if err != nil {
		return id
	}
	return decoded
}

// EncodeConvID makes a conversation ID safe for use as a URL path segment.
// NormalizeConvID(EncodeConvID(id)) == id for every id.
func EncodeConvID(id string) string {
	return url.PathEscape(id)
}
