package collector

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/convertlab/siteaudit/internal/audit"
)

// visibleTextLimit bounds the stored visible text; enough for downstream
// prompt building without ballooning the record.
const visibleTextLimit = 20000

// marketingSignatures maps script markers to the marketing tool they belong
// to. Matching is case-insensitive substring over script sources and bodies.
var marketingSignatures = []struct {
	marker string
	name   string
}{
	{"googletagmanager.com", "Google Tag Manager"},
	{"google-analytics.com", "Google Analytics"},
	{"gtag(", "Google Analytics"},
	{"connect.facebook.net", "Meta Pixel"},
	{"fbq(", "Meta Pixel"},
	{"js.hs-scripts.com", "HubSpot"},
	{"static.klaviyo.com", "Klaviyo"},
	{"cdn.segment.com", "Segment"},
	{"static.hotjar.com", "Hotjar"},
	{"clarity.ms", "Microsoft Clarity"},
	{"analytics.tiktok.com", "TikTok Pixel"},
	{"snap.licdn.com", "LinkedIn Insight"},
	{"intercom.io", "Intercom"},
	{"widget.intercom.io", "Intercom"},
	{"mailchimp.com", "Mailchimp"},
}

// extractContent parses the document and builds the content payload.
func extractContent(targetURL string, body []byte) (audit.ContentPayload, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return audit.ContentPayload{}, fmt.Errorf("parse document: %w", err)
	}

	payload := audit.ContentPayload{
		Title:    strings.TrimSpace(doc.Find("title").First().Text()),
		Headings: map[string][]string{},
		HTMLSize: len(body),
	}
	payload.MetaDescription = metaContent(doc, "description")
	payload.MetaKeywords = metaContent(doc, "keywords")

	for _, level := range []string{"h1", "h2", "h3", "h4", "h5", "h6"} {
		doc.Find(level).Each(func(_ int, sel *goquery.Selection) {
			text := strings.TrimSpace(sel.Text())
			if text != "" {
				payload.Headings[level] = append(payload.Headings[level], text)
			}
		})
	}

	payload.InternalLinks, payload.ExternalLinks = countLinks(doc, targetURL)
	payload.ImageCount, payload.ImagesWithAlt = countImages(doc)
	payload.MarketingScripts = detectMarketingScripts(doc)
	payload.VisibleText = visibleText(doc)
	return payload, nil
}

func metaContent(doc *goquery.Document, name string) string {
	value, _ := doc.Find(fmt.Sprintf(`meta[name=%q]`, name)).First().Attr("content")
	return strings.TrimSpace(value)
}

func countLinks(doc *goquery.Document, targetURL string) (internal, external int) {
	base, err := url.Parse(targetURL)
	if err != nil {
		base = &url.URL{}
	}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		if resolved.Host == "" || strings.EqualFold(resolved.Host, base.Host) {
			internal++
		} else {
			external++
		}
	})
	return internal, external
}

func countImages(doc *goquery.Document) (total, withAlt int) {
	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		total++
		if alt, ok := sel.Attr("alt"); ok && strings.TrimSpace(alt) != "" {
			withAlt++
		}
	})
	return total, withAlt
}

func detectMarketingScripts(doc *goquery.Document) []string {
	var haystack strings.Builder
	doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok {
			haystack.WriteString(src)
			haystack.WriteString("\n")
		}
		haystack.WriteString(sel.Text())
		haystack.WriteString("\n")
	})
	lower := strings.ToLower(haystack.String())

	seen := map[string]bool{}
	found := []string{}
	for _, sig := range marketingSignatures {
		if seen[sig.name] {
			continue
		}
		if strings.Contains(lower, sig.marker) {
			seen[sig.name] = true
			found = append(found, sig.name)
		}
	}
	return found
}

func visibleText(doc *goquery.Document) string {
	clone := doc.Find("body").Clone()
	clone.Find("script, style, noscript").Remove()
	text := strings.Join(strings.Fields(clone.Text()), " ")
	return truncateAtRune(text, visibleTextLimit)
}

// truncateAtRune cuts s to at most limit bytes without bisecting a rune, so
// the stored text stays valid UTF-8.
func truncateAtRune(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// slugForURL flattens a URL into a blob-path-safe token.
func slugForURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "page"
	}
	slug := parsed.Host + strings.ReplaceAll(parsed.Path, "/", "-")
	slug = strings.Trim(slug, "-")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '-'
		}
	}, slug)
}
