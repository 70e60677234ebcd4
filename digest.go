package psarc

import "crypto/md5"

// DigestName computes the MD5 name digest for a stored filename. The
// archive format mandates literal MD5 (it is the key TOC readers use to
// cross-check an entry against a user-supplied pattern before the manifest
// has even been consulted for any third party tool), so this is not routed
// through the pack's more general content-digest abstractions — see
// DESIGN.md.
func DigestName(name string) NameDigest {
	return md5.Sum([]byte(name))
}
