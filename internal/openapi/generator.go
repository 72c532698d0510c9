package openapi

import (
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3gen"

	"github.com/quotagate/quotagate/internal/model"
)

// Options controls what the generated document describes.
type Options struct {
	BaseURL      string
	Version      string
	APIKeyHeader string
	// Proxy adds the /proxy/{path} routes when an upstream is configured.
	Proxy bool
}

// Generate builds the OpenAPI 3.1 document for the quotagate HTTP surface.
// Component schemas are derived from the model types.
func Generate(opts Options) (*openapi3.T, error) {
	if opts.APIKeyHeader == "" {
		opts.APIKeyHeader = "X-API-Key"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "quotagate API",
			Description: "API key issuance, validation and per-key daily/monthly quota enforcement.",
			Version:     opts.Version,
		},
	}
	if opts.BaseURL != "" {
		doc.Servers = openapi3.Servers{{URL: opts.BaseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{Type: "apiKey", In: "header", Name: opts.APIKeyHeader},
	}
	doc.Components.SecuritySchemes["adminToken"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{Type: "apiKey", In: "header", Name: "X-Admin-Token"},
	}
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
	}

	if err := addModelSchemas(doc); err != nil {
		return nil, err
	}

	doc.Paths = openapi3.NewPaths()
	addSystemPaths(doc)
	addGatewayPaths(doc)
	addAdminPaths(doc)
	if opts.Proxy {
		addProxyPaths(doc)
	}
	return doc, nil
}

var modelSchemas = map[string]interface{}{
	"APIKey":       model.APIKey{},
	"UsageStats":   model.UsageStats{},
	"UsageSummary": model.UsageSummary{},
	"QuotaDetail":  model.QuotaDetail{},
	"Admission":    model.Admission{},
	"AuditPage":    model.AuditPage{},
}

func addModelSchemas(doc *openapi3.T) error {
	for name, v := range modelSchemas {
		ref, err := openapi3gen.NewSchemaRefForValue(v, doc.Components.Schemas)
		if err != nil {
			return fmt.Errorf("generate %s schema: %w", name, err)
		}
		doc.Components.Schemas[name] = ref
	}
	// Metadata is caller-owned JSON, not bytes.
	if key := doc.Components.Schemas["APIKey"].Value; key != nil {
		key.Properties["metadata"] = &openapi3.SchemaRef{Value: &openapi3.Schema{
			Description: "Opaque caller-supplied JSON, returned unchanged.",
		}}
	}

	if page := doc.Components.Schemas["AuditPage"].Value; page != nil {
		if entries := page.Properties["entries"]; entries != nil && entries.Value != nil && entries.Value.Items != nil {
			if entry := entries.Value.Items.Value; entry != nil {
				entry.Properties["details"] = &openapi3.SchemaRef{Value: &openapi3.Schema{
					Description: "Action-specific JSON.",
				}}
			}
		}
	}

	doc.Components.Schemas["ErrorResponse"] = &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"error": {Value: &openapi3.Schema{
				Type: &openapi3.Types{"object"},
				Properties: openapi3.Schemas{
					"code":    {Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
					"message": {Value: openapi3.NewStringSchema()},
					"context": {Value: openapi3.NewObjectSchema()},
				},
			}},
		},
	}}

	doc.Components.Schemas["IssuedKey"] = &openapi3.SchemaRef{Value: &openapi3.Schema{
		Description: "A newly issued key. secret is shown only in this response.",
		AllOf: openapi3.SchemaRefs{
			ref("APIKey"),
			{Value: &openapi3.Schema{
				Type: &openapi3.Types{"object"},
				Properties: openapi3.Schemas{
					"secret": {Value: openapi3.NewStringSchema()},
				},
			}},
		},
	}}
	doc.Components.Schemas["IssueKeyRequest"] = &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"name":            {Value: openapi3.NewStringSchema()},
			"quota_daily":     {Value: openapi3.NewInt64Schema().WithMin(1)},
			"quota_monthly":   {Value: openapi3.NewInt64Schema().WithMin(1)},
			"expires_in_days": {Value: openapi3.NewIntegerSchema().WithDescription("0 means the key never expires")},
			"metadata":        {Value: &openapi3.Schema{}},
		},
	}}
	doc.Components.Schemas["ConsumeRequest"] = &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:     &openapi3.Types{"object"},
		Required: []string{"endpoint"},
		Properties: openapi3.Schemas{
			"endpoint": {Value: openapi3.NewStringSchema()},
			"cost":     {Value: openapi3.NewInt64Schema().WithMin(1)},
		},
	}}
	return nil
}

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

var (
	apiKeySecurity = &openapi3.SecurityRequirements{{"apiKey": {}}, {"bearerAuth": {}}}
	adminSecurity  = &openapi3.SecurityRequirements{{"adminToken": {}}, {"bearerAuth": {}}}
	noSecurity     = &openapi3.SecurityRequirements{}
)

func addSystemPaths(doc *openapi3.T) {
	doc.Paths.Set("/healthz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"system"},
			Summary:     "Service and store health",
			OperationID: "healthz",
			Security:    noSecurity,
			Responses:   newResponses("200", "Store reachable", nil, "503"),
		},
	})
}

func addGatewayPaths(doc *openapi3.T) {
	doc.Paths.Set("/v1/consume", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"gateway"},
			Summary:     "Atomically check quota and record usage",
			OperationID: "consume",
			Security:    apiKeySecurity,
			RequestBody: jsonBody("ConsumeRequest"),
			Responses:   newResponses("200", "Admitted", ref("Admission"), "400", "401", "429", "503"),
		},
	})
	doc.Paths.Set("/v1/quota", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"gateway"},
			Summary:     "Current quota usage for the calling key",
			OperationID: "quota",
			Security:    apiKeySecurity,
			Responses:   newResponses("200", "Quota detail", ref("QuotaDetail"), "401", "503"),
		},
	})
}

func addAdminPaths(doc *openapi3.T) {
	keyIDParam := &openapi3.ParameterRef{Value: openapi3.NewPathParameter("keyID").
		WithSchema(openapi3.NewStringSchema())}
	windowParam := &openapi3.ParameterRef{Value: openapi3.NewQueryParameter("window").
		WithSchema(openapi3.NewStringSchema().WithEnum("trailing_day", "trailing_month", "all_time"))}
	enabledOnlyParam := &openapi3.ParameterRef{Value: openapi3.NewQueryParameter("enabled_only").
		WithSchema(openapi3.NewBoolSchema())}

	doc.Paths.Set("/api/v1/admin/session", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"admin"},
			Summary:     "Exchange the admin token for a session JWT",
			OperationID: "create_session",
			Security:    adminSecurity,
			Responses:   newResponses("200", "Session token", nil, "401"),
		},
	})
	doc.Paths.Set("/api/v1/admin/keys", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"admin"},
			Summary:     "List API keys",
			OperationID: "list_keys",
			Security:    adminSecurity,
			Parameters:  openapi3.Parameters{enabledOnlyParam},
			Responses:   newResponses("200", "Keys", listSchema(ref("APIKey")), "401", "503"),
		},
		Post: &openapi3.Operation{
			Tags:        []string{"admin"},
			Summary:     "Issue an API key",
			OperationID: "issue_key",
			Security:    adminSecurity,
			RequestBody: jsonBody("IssueKeyRequest"),
			Responses:   newResponses("201", "Issued key with its secret", ref("IssuedKey"), "400", "401", "503"),
		},
	})
	doc.Paths.Set("/api/v1/admin/keys/{keyID}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{keyIDParam},
		Get: &openapi3.Operation{
			Tags:        []string{"admin"},
			Summary:     "Get an API key",
			OperationID: "get_key",
			Security:    adminSecurity,
			Responses:   newResponses("200", "Key", ref("APIKey"), "401", "404"),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{"admin"},
			Summary:     "Disable an API key",
			OperationID: "disable_key",
			Security:    adminSecurity,
			Responses:   newResponses("200", "Whether the key was enabled before the call", nil, "401", "404"),
		},
	})
	doc.Paths.Set("/api/v1/admin/keys/{keyID}/usage", &openapi3.PathItem{
		Parameters: openapi3.Parameters{keyIDParam},
		Get: &openapi3.Operation{
			Tags:        []string{"admin"},
			Summary:     "Usage statistics for a key",
			OperationID: "key_usage",
			Security:    adminSecurity,
			Parameters:  openapi3.Parameters{windowParam},
			Responses:   newResponses("200", "Usage statistics", ref("UsageStats"), "400", "401"),
		},
	})
	doc.Paths.Set("/api/v1/admin/keys/{keyID}/quota", &openapi3.PathItem{
		Parameters: openapi3.Parameters{keyIDParam},
		Get: &openapi3.Operation{
			Tags:        []string{"admin"},
			Summary:     "Current quota usage for a key",
			OperationID: "key_quota",
			Security:    adminSecurity,
			Responses:   newResponses("200", "Quota detail", ref("QuotaDetail"), "401", "404"),
		},
	})
	doc.Paths.Set("/api/v1/admin/usage/summary", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"admin"},
			Summary:     "Ledger-wide usage summary",
			OperationID: "usage_summary",
			Security:    adminSecurity,
			Parameters:  openapi3.Parameters{windowParam},
			Responses:   newResponses("200", "Summary", ref("UsageSummary"), "400", "401"),
		},
	})
	doc.Paths.Set("/api/v1/admin/audit", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"admin"},
			Summary:     "Admin audit log, newest first",
			OperationID: "list_audit",
			Security:    adminSecurity,
			Parameters: openapi3.Parameters{
				{Value: openapi3.NewQueryParameter("action").
					WithSchema(openapi3.NewStringSchema().WithEnum(model.AuditCreateKey, model.AuditDisableKey, model.AuditCreateSession))},
				{Value: openapi3.NewQueryParameter("limit").WithSchema(openapi3.NewIntegerSchema().WithMin(0).WithMax(1000))},
				{Value: openapi3.NewQueryParameter("offset").WithSchema(openapi3.NewIntegerSchema().WithMin(0))},
			},
			Responses: newResponses("200", "Audit page", ref("AuditPage"), "400", "401", "403"),
		},
	})
}

func addProxyPaths(doc *openapi3.T) {
	pathParam := &openapi3.ParameterRef{Value: openapi3.NewPathParameter("path").
		WithSchema(openapi3.NewStringSchema())}
	op := func(method string) *openapi3.Operation {
		return &openapi3.Operation{
			Tags:        []string{"proxy"},
			Summary:     "Metered pass-through to the upstream API (cost 1 per call)",
			OperationID: "proxy_" + method,
			Security:    apiKeySecurity,
			Responses:   newResponses("200", "Upstream response", nil, "401", "429", "502", "503"),
		}
	}
	doc.Paths.Set("/proxy/{path}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{pathParam},
		Get:        op("get"),
		Post:       op("post"),
		Put:        op("put"),
		Patch:      op("patch"),
		Delete:     op("delete"),
	})
}

func jsonBody(schema string) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
		WithRequired(true).
		WithJSONSchemaRef(ref(schema))}
}

func listSchema(item *openapi3.SchemaRef) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"resource": {Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: item}},
			"meta": {Value: &openapi3.Schema{
				Type: &openapi3.Types{"object"},
				Properties: openapi3.Schemas{
					"count":   {Value: openapi3.NewIntegerSchema()},
					"took_ms": {Value: openapi3.NewFloat64Schema()},
				},
			}},
		},
	}}
}

var errorDescriptions = map[string]string{
	"400": "Bad request",
	"401": "Not authorized",
	"403": "Client address not allowed",
	"404": "Not found",
	"429": "Quota exceeded",
	"502": "Upstream unavailable",
	"503": "Store unavailable",
}

// newResponses builds the success response plus the listed error responses,
// all of which share the ErrorResponse envelope.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef, errorCodes ...string) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	success := &openapi3.Response{Description: &successDesc}
	if schema != nil {
		success.Content = openapi3.NewContentWithJSONSchemaRef(schema)
	}
	responses.Set(statusCode, &openapi3.ResponseRef{Value: success})

	errorRef := ref("ErrorResponse")
	for _, code := range errorCodes {
		desc := errorDescriptions[code]
		responses.Set(code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}
