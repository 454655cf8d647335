package pcoconnect

import (
	"net/http"
	"strings"
	"time"
)

// ServeOpenAPI handles GET /openapi-chatgpt.json: the API description used to
// register the connector as a GPT action. The servers entry is rewritten to
// the public base URL with an https scheme, since action clients refuse plain
// http.
func (h *Handler) ServeOpenAPI(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if h.rejectMethod(w, r, http.MethodGet) {
		return
	}

	h.setCORSHeaders(w, r)

	base := h.server.Config().PublicBaseURL
	if base == "" {
		base = "https://" + r.Host
	}
	base = strings.TrimRight(base, "/")
	if strings.HasPrefix(base, "http://") {
		base = "https://" + strings.TrimPrefix(base, "http://")
	}

	h.writeJSON(w, http.StatusOK, buildOpenAPIDocument(base))
	h.recordHTTPMetrics("openapi", r.Method, http.StatusOK, startTime)
}

// buildOpenAPIDocument describes the read-only API surface. The document is
// assembled from literals rather than reflection; the surface is small and
// changes with the route table anyway.
func buildOpenAPIDocument(baseURL string) map[string]any {
	queryParam := func(name, description string, required bool, schema map[string]any) map[string]any {
		return map[string]any{
			"name":        name,
			"in":          "query",
			"description": description,
			"required":    required,
			"schema":      schema,
		}
	}
	stringSchema := map[string]any{"type": "string"}
	pageSizeSchema := map[string]any{"type": "integer", "minimum": 1, "maximum": MaxPageSize}

	jsonResponse := func(description string) map[string]any {
		return map[string]any{
			"description": description,
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{"type": "object"},
				},
			},
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":       "Planning Center Connector",
			"description": "Simplified read-only access to Planning Center people and service plans.",
			"version":     "1.0.0",
		},
		"servers": []map[string]any{
			{"url": baseURL},
		},
		"paths": map[string]any{
			"/health": map[string]any{
				"get": map[string]any{
					"operationId": "health",
					"summary":     "Liveness check",
					"responses":   map[string]any{"200": jsonResponse("Service is up")},
				},
			},
			"/pco/people/find": map[string]any{
				"get": map[string]any{
					"operationId": "findPeople",
					"summary":     "Find people by full or partial name",
					"parameters": []map[string]any{
						queryParam("name", "Full or partial name to search for", true, stringSchema),
						queryParam("page_size", "Number of results to return", false, pageSizeSchema),
					},
					"responses": map[string]any{
						"200": jsonResponse("Matching people with emails and phone numbers"),
					},
				},
			},
			"/pco/services/service-types": map[string]any{
				"get": map[string]any{
					"operationId": "listServiceTypes",
					"summary":     "List all service types",
					"parameters": []map[string]any{
						queryParam("page_size", "Upstream page size for the listing walk", false, pageSizeSchema),
						queryParam("max_pages", "Cap on pagination pages fetched", false, map[string]any{"type": "integer", "minimum": 1}),
					},
					"responses": map[string]any{
						"200": jsonResponse("Service types with folder names and sequence"),
					},
				},
			},
			"/pco/services/service-types/resolve": map[string]any{
				"get": map[string]any{
					"operationId": "resolveServiceType",
					"summary":     "Fuzzy-match a service type by name",
					"parameters": []map[string]any{
						queryParam("query", "Name to match against service types", true, stringSchema),
					},
					"responses": map[string]any{
						"200": jsonResponse("Candidate service types, best match first"),
						"404": jsonResponse("No service type matched"),
					},
				},
			},
			"/pco/services/plans": map[string]any{
				"get": map[string]any{
					"operationId": "listPlans",
					"summary":     "List service plans with times and needed positions",
					"parameters": []map[string]any{
						queryParam("service_type_id", "Explicit service type id", false, stringSchema),
						queryParam("service_type_name", "Service type name to fuzzy-match", false, stringSchema),
						queryParam("page_size", "Number of plans to return", false, pageSizeSchema),
						queryParam("from_date", "Inclusive lower ISO date bound", false, stringSchema),
						queryParam("to_date", "Inclusive upper ISO date bound", false, stringSchema),
					},
					"responses": map[string]any{
						"200": jsonResponse("Flattened plans"),
						"422": jsonResponse("Service type could not be determined"),
					},
				},
			},
			"/pco/services/plan": map[string]any{
				"get": map[string]any{
					"operationId": "getPlan",
					"summary":     "Fetch one plan as a raw JSON:API document",
					"parameters": []map[string]any{
						queryParam("plan_id", "Plan id", true, stringSchema),
						queryParam("include", "Override the side-load set", false, stringSchema),
					},
					"responses": map[string]any{
						"200": jsonResponse("Raw JSON:API plan document"),
					},
				},
			},
		},
	}
}
