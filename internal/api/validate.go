package api

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/convertlab/siteaudit/internal/audit"
)

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ().-]{5,18}[0-9]$`)
)

// validateRequest checks the launch request field by field. Every invalid
// field gets its own message so the client can show all problems at once.
func validateRequest(req audit.AnalysisRequest) map[string]string {
	problems := make(map[string]string)

	if strings.TrimSpace(req.Name) == "" {
		problems["name"] = "name is required"
	}
	if strings.TrimSpace(req.Email) == "" {
		problems["email"] = "email is required"
	} else if !emailPattern.MatchString(req.Email) {
		problems["email"] = "email is not a valid address"
	}
	if strings.TrimSpace(req.Company) == "" {
		problems["company"] = "company is required"
	}
	if msg := validateTargetURL(req.TargetURL); msg != "" {
		problems["target_url"] = msg
	}
	if req.Phone != "" && !phonePattern.MatchString(req.Phone) {
		problems["phone"] = "phone is not a valid number"
	}
	return problems
}

func validateTargetURL(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "target_url is required"
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "target_url is not a valid URL"
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "target_url must use http or https"
	}
	if parsed.Host == "" {
		return "target_url must include a host"
	}
	return ""
}
