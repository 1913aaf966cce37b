package policy

import "strings"

// MatchPattern matches a slash-separated path against a glob pattern.
//
// Supported syntax:
//   - `*` matches any run of characters within one path segment
//   - `**` as a full segment matches zero or more segments
//   - a trailing `/**` also matches the directory itself
//   - anything else matches literally, segment by segment
//
// Patterns and paths are always slash-separated (git path convention),
// never OS-specific.
func MatchPattern(pattern, path string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(path, "/"))
}

func matchSegments(pat, segs []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			// `**` absorbs zero or more leading segments.
			if len(pat) == 1 {
				return true
			}
			for i := 0; i <= len(segs); i++ {
				if matchSegments(pat[1:], segs[i:]) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 {
			return false
		}
		if !matchSegment(pat[0], segs[0]) {
			return false
		}
		pat = pat[1:]
		segs = segs[1:]
	}
	return len(segs) == 0
}

// matchSegment matches a single segment with `*` wildcards.
func matchSegment(pat, seg string) bool {
	parts := strings.Split(pat, "*")
	if len(parts) == 1 {
		return pat == seg
	}

	if !strings.HasPrefix(seg, parts[0]) {
		return false
	}
	seg = seg[len(parts[0]):]

	last := parts[len(parts)-1]
	if !strings.HasSuffix(seg, last) {
		return false
	}
	seg = seg[:len(seg)-len(last)]

	for _, mid := range parts[1 : len(parts)-1] {
		idx := strings.Index(seg, mid)
		if idx < 0 {
			return false
		}
		seg = seg[idx+len(mid):]
	}
	return true
}
