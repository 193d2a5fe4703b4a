package api

import "strings"

// Link is one entry of a pagination Link header.
type Link struct {
	URL     string
	Results bool
	Cursor  string
}

// ParseLinkHeader parses a header such as
//
//	<https://x/?cursor=0:0:1>; rel="previous"; results="false"; cursor="0:0:1"
//
// into entries keyed by rel. Malformed entries are skipped.
func ParseLinkHeader(value string) map[string]Link {
	links := make(map[string]Link)
	if strings.TrimSpace(value) == "" {
		return links
	}

	for _, entry := range splitEntries(value) {
		parts := strings.Split(entry, ";")
		target := strings.TrimSpace(parts[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}

		link := Link{URL: target[1 : len(target)-1]}
		var rel string
		for _, attr := range parts[1:] {
			key, val, ok := strings.Cut(strings.TrimSpace(attr), "=")
			if !ok {
				continue
			}
			val = strings.Trim(strings.TrimSpace(val), `"`)
			switch strings.TrimSpace(key) {
			case "rel":
				rel = val
			case "results":
				link.Results = val == "true"
			case "cursor":
				link.Cursor = val
			}
		}
		if rel != "" {
			links[rel] = link
		}
	}
	return links
}

// splitEntries splits on commas that are outside angle brackets, since URLs
// may themselves contain commas.
func splitEntries(value string) []string {
	var entries []string
	depth, start := 0, 0
	for i, r := range value {
		switch r {
		case '<':
			depth++
		case '>':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				entries = append(entries, strings.TrimSpace(value[start:i]))
				start = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(value[start:]); tail != "" {
		entries = append(entries, tail)
	}
	return entries
}
