package admission

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/tributary-ai/llm-router-waf/internal/gatewayerror"
)

// ValidationConfig bounds the shape of requests the gateway will accept before they reach the
// router: method, size, content type, and a small set of blocked-content patterns.
type ValidationConfig struct {
	MaxRequestSize  int64
	AllowedMethods  []string
	ContentTypes    []string
	BlockedPatterns []string
	MaxJSONDepth    int
}

// Validator enforces a ValidationConfig against incoming requests.
type Validator struct {
	config         ValidationConfig
	blockedRegexes []*regexp.Regexp
}

// NewValidator compiles the configured blocked patterns. Defaults are applied for any zero-value
// field so a bare ValidationConfig{} still behaves sensibly.
func NewValidator(cfg ValidationConfig) (*Validator, error) {
	if cfg.MaxRequestSize == 0 {
		cfg.MaxRequestSize = 32 << 20
	}
	if cfg.MaxJSONDepth == 0 {
		cfg.MaxJSONDepth = 20
	}

	v := &Validator{config: cfg}
	for _, pattern := range cfg.BlockedPatterns {
		regex, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid blocked pattern %q: %w", pattern, err)
		}
		v.blockedRegexes = append(v.blockedRegexes, regex)
	}
	return v, nil
}

// ValidateRequest checks method, content-length, and content-type. It does not consume the body.
func (v *Validator) ValidateRequest(r *http.Request) error {
	if !v.isAllowedMethod(r.Method) {
		return gatewayerror.InvalidRequest(fmt.Sprintf("method %s not allowed", r.Method))
	}

	if r.ContentLength > v.config.MaxRequestSize {
		return gatewayerror.InvalidRequest(fmt.Sprintf("request size %d exceeds maximum %d", r.ContentLength, v.config.MaxRequestSize))
	}

	if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
		if !v.isAllowedContentType(r.Header.Get("Content-Type")) {
			return gatewayerror.InvalidRequest(fmt.Sprintf("content-type %s not allowed", r.Header.Get("Content-Type")))
		}
	}

	return nil
}

// ValidateBody checks JSON well-formedness, nesting depth, and blocked-content patterns against
// an already-read request body.
func (v *Validator) ValidateBody(body []byte) error {
	var parsed interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return gatewayerror.InvalidRequest("request body must be valid JSON")
	}

	if depth := jsonDepth(parsed); depth > v.config.MaxJSONDepth {
		return gatewayerror.InvalidRequest(fmt.Sprintf("JSON depth %d exceeds maximum %d", depth, v.config.MaxJSONDepth))
	}

	if v.containsBlockedPattern(string(body)) {
		return gatewayerror.InvalidRequest("request body contains a blocked pattern")
	}

	return nil
}

func (v *Validator) isAllowedMethod(method string) bool {
	if len(v.config.AllowedMethods) == 0 {
		return true
	}
	for _, allowed := range v.config.AllowedMethods {
		if strings.EqualFold(method, allowed) {
			return true
		}
	}
	return false
}

func (v *Validator) isAllowedContentType(contentType string) bool {
	if len(v.config.ContentTypes) == 0 {
		return true
	}
	mainType := strings.TrimSpace(strings.Split(contentType, ";")[0])
	for _, allowed := range v.config.ContentTypes {
		if strings.EqualFold(mainType, allowed) {
			return true
		}
	}
	return false
}

func (v *Validator) containsBlockedPattern(text string) bool {
	for _, regex := range v.blockedRegexes {
		if regex.MatchString(text) {
			return true
		}
	}
	return false
}

func jsonDepth(data interface{}) int {
	switch d := data.(type) {
	case map[string]interface{}:
		max := 0
		for _, value := range d {
			if depth := jsonDepth(value); depth > max {
				max = depth
			}
		}
		return max + 1
	case []interface{}:
		max := 0
		for _, value := range d {
			if depth := jsonDepth(value); depth > max {
				max = depth
			}
		}
		return max + 1
	default:
		return 1
	}
}
