package collector

import (
	"bytes"
)

// heuristic decides whether a probed page needs JavaScript rendering, using
// cheap byte-level signals.
type heuristic struct {
	minHTMLBytes int
	keywords     [][]byte
}

func newHeuristic() *heuristic {
	return &heuristic{
		minHTMLBytes: 2048,
		keywords: [][]byte{
			[]byte("id=\"root\""),
			[]byte("id=\"__next\""),
			[]byte("ng-app"),
			[]byte("data-reactroot"),
			[]byte("window.__nuxt__"),
			[]byte("enable javascript"),
		},
	}
}

// needsJS reports whether the body shows signals of a client-rendered page.
func (h *heuristic) needsJS(body []byte) bool {
	if h.minHTMLBytes > 0 && len(body) < h.minHTMLBytes {
		return true
	}
	lower := bytes.ToLower(body)
	for _, kw := range h.keywords {
		if bytes.Contains(lower, kw) {
			return true
		}
	}
	return false
}
