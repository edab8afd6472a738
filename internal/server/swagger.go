package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var openapiSpecYAML []byte

// loadOpenAPIDoc parses and validates the embedded OpenAPI document once at startup. The document
// is only served at /swagger.json; it is not used to validate requests.
func loadOpenAPIDoc() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiSpecYAML)
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded OpenAPI spec: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid embedded OpenAPI spec: %w", err)
	}
	return doc, nil
}

// handleSwaggerJSON serves the validated OpenAPI document as JSON.
func (s *Server) handleSwaggerJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(s.openapiDoc)
}
