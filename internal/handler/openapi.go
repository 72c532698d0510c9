package handler

import (
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

// OpenAPIHandler serves a pre-built OpenAPI document.
type OpenAPIHandler struct {
	doc *openapi3.T
}

// NewOpenAPIHandler creates an OpenAPIHandler for doc.
func NewOpenAPIHandler(doc *openapi3.T) *OpenAPIHandler {
	return &OpenAPIHandler{doc: doc}
}

// ServeSpec writes the document as JSON.
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	if h.doc == nil {
		writeError(w, http.StatusNotFound, "OpenAPI document not available")
		return
	}
	writeJSON(w, http.StatusOK, h.doc)
}
