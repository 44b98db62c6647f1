// Package storage writes downloaded post payloads under the download root.
//
// Files are laid out per target handle as
//
//	<root>/<target>/<shortcode>_<n><ext>
//
// and written atomically through a temporary file and rename. Paths handed
// back to callers are relative to the root and use forward slashes, which is
// the form stored in sc_raw_news_feeds.image_paths.
package storage
