package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DocsHandler serves the OpenAPI description of the risk API
type DocsHandler struct {
	version string
}

// NewDocsHandler creates a new documentation handler
func NewDocsHandler(version string) *DocsHandler {
	if version == "" {
		version = "dev"
	}
	return &DocsHandler{version: version}
}

// SwaggerSpec represents the OpenAPI specification structure
type SwaggerSpec struct {
	OpenAPI    string                 `json:"openapi"`
	Info       SwaggerInfo            `json:"info"`
	Paths      map[string]interface{} `json:"paths"`
	Components SwaggerComponents      `json:"components"`
}

// SwaggerInfo represents the API information
type SwaggerInfo struct {
	Title       string `json:"title"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

// SwaggerComponents represents the reusable components
type SwaggerComponents struct {
	Schemas map[string]interface{} `json:"schemas"`
}

// GetSwaggerJSON returns the OpenAPI specification in JSON format
func (h *DocsHandler) GetSwaggerJSON(c *gin.Context) {
	c.JSON(http.StatusOK, h.generateSwaggerSpec())
}

// GetSwaggerUI returns the Swagger UI HTML page
func (h *DocsHandler) GetSwaggerUI(c *gin.Context) {
	html := `<!DOCTYPE html>
<html>
<head>
    <title>Portfolio Risk API - Swagger UI</title>
    <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@4.15.5/swagger-ui.css" />
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4.15.5/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            SwaggerUIBundle({
                url: "/docs/openapi.json",
                dom_id: "#swagger-ui",
                deepLinking: true
            });
        };
    </script>
</body>
</html>`
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

func schemaRef(name string) map[string]interface{} {
	return map[string]interface{}{"$ref": "#/components/schemas/" + name}
}

func jsonContent(schema map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"application/json": map[string]interface{}{"schema": schema},
	}
}

func pathParam(name, description string) map[string]interface{} {
	return map[string]interface{}{
		"name": name, "in": "path", "required": true, "description": description,
		"schema": map[string]interface{}{"type": "string"},
	}
}

func queryParam(name, description, typ string) map[string]interface{} {
	return map[string]interface{}{
		"name": name, "in": "query", "description": description,
		"schema": map[string]interface{}{"type": typ},
	}
}

// operation builds an operation object. A 200 response with the given schema
// and the shared error responses are always present.
func operation(summary, tag string, params []map[string]interface{}, body string, result string, extra map[string]string) map[string]interface{} {
	responses := map[string]interface{}{
		"200": map[string]interface{}{"description": "OK", "content": jsonContent(schemaRef(result))},
		"400": map[string]interface{}{"description": "Invalid request", "content": jsonContent(schemaRef("Error"))},
		"503": map[string]interface{}{"description": "A data source is unavailable", "content": jsonContent(schemaRef("Error"))},
	}
	for code, description := range extra {
		responses[code] = map[string]interface{}{"description": description, "content": jsonContent(schemaRef("Error"))}
	}

	op := map[string]interface{}{
		"summary":   summary,
		"tags":      []string{tag},
		"responses": responses,
	}
	if len(params) > 0 {
		op["parameters"] = params
	}
	if body != "" {
		op["requestBody"] = map[string]interface{}{"required": true, "content": jsonContent(schemaRef(body))}
	}
	return op
}

func (h *DocsHandler) generateSwaggerSpec() SwaggerSpec {
	portfolio := pathParam("id", "Portfolio identifier")
	owner := pathParam("owner", "Limit owner identifier")
	limitID := pathParam("limitId", "Limit identifier")
	days := queryParam("days", "History window in days", "integer")
	notFound := map[string]string{"404": "Portfolio not found", "422": "Calculation rejected the input"}

	object := func(props map[string]string, required ...string) map[string]interface{} {
		properties := make(map[string]interface{}, len(props))
		for name, typ := range props {
			properties[name] = map[string]interface{}{"type": typ}
		}
		schema := map[string]interface{}{"type": "object", "properties": properties}
		if len(required) > 0 {
			schema["required"] = required
		}
		return schema
	}

	return SwaggerSpec{
		OpenAPI: "3.0.0",
		Info: SwaggerInfo{
			Title:       "Portfolio Risk API",
			Version:     h.version,
			Description: "Tail risk, stress testing, performance metrics, beta and pre-trade limit checks",
		},
		Paths: map[string]interface{}{
			"/v1/health": map[string]interface{}{
				"get": operation("Health check", "System", nil, "", "Health", nil),
			},
			"/v1/ready": map[string]interface{}{
				"get": operation("Readiness of the data sources", "System", nil, "", "Readiness", nil),
			},
			"/v1/scenarios": map[string]interface{}{
				"get": operation("List the historical stress scenarios", "Stress", nil, "", "Envelope", nil),
			},
			"/v1/portfolios/{id}/var": map[string]interface{}{
				"get": operation("Historical VaR at 95% and 99%", "Tail risk",
					[]map[string]interface{}{portfolio, days}, "", "Envelope", notFound),
			},
			"/v1/portfolios/{id}/cvar": map[string]interface{}{
				"get": operation("Historical CVaR at 95% and 99%", "Tail risk",
					[]map[string]interface{}{portfolio, days}, "", "Envelope", notFound),
			},
			"/v1/portfolios/{id}/tail": map[string]interface{}{
				"get": operation("VaR and CVaR at one confidence level", "Tail risk",
					[]map[string]interface{}{portfolio, days, queryParam("confidence", "95 or 99", "number")}, "", "Envelope", notFound),
			},
			"/v1/portfolios/{id}/metrics": map[string]interface{}{
				"get": operation("Sharpe ratio, maximum drawdown and exposure", "Metrics",
					[]map[string]interface{}{portfolio, days}, "", "Envelope", notFound),
			},
			"/v1/portfolios/{id}/stress": map[string]interface{}{
				"post": operation("Run stress scenarios against current positions", "Stress",
					[]map[string]interface{}{portfolio}, "StressTestRequest", "Envelope", notFound),
			},
			"/v1/portfolios/{id}/beta": map[string]interface{}{
				"post": operation("Beta against one or more market indices", "Metrics",
					[]map[string]interface{}{portfolio}, "BetaCalculationRequest", "Envelope", notFound),
			},
			"/v1/portfolios/{id}/orders/check": map[string]interface{}{
				"post": operation("Pre-trade risk check of a proposed order", "Limits",
					[]map[string]interface{}{portfolio}, "OrderCheckRequest", "Envelope", notFound),
			},
			"/v1/owners/{owner}/limits": map[string]interface{}{
				"get": operation("List risk limits", "Limits",
					[]map[string]interface{}{owner}, "", "Envelope", nil),
				"post": operation("Create a risk limit", "Limits",
					[]map[string]interface{}{owner}, "CreateLimitRequest", "Envelope",
					map[string]string{"409": "A limit of this type already exists"}),
			},
			"/v1/owners/{owner}/limits/{limitId}": map[string]interface{}{
				"get": operation("Get a risk limit", "Limits",
					[]map[string]interface{}{owner, limitID}, "", "Envelope",
					map[string]string{"404": "Limit not found"}),
				"put": operation("Update a risk limit", "Limits",
					[]map[string]interface{}{owner, limitID}, "UpdateLimitRequest", "Envelope",
					map[string]string{"404": "Limit not found", "409": "Version conflict or a limit of the new type already exists"}),
				"delete": operation("Delete a risk limit", "Limits",
					[]map[string]interface{}{owner, limitID}, "", "Envelope",
					map[string]string{"404": "Limit not found"}),
			},
		},
		Components: SwaggerComponents{
			Schemas: map[string]interface{}{
				"Health":    object(map[string]string{"status": "string", "timestamp": "string", "version": "string", "uptime": "number"}),
				"Readiness": object(map[string]string{"status": "string", "checks": "object"}),
				"Envelope":  object(map[string]string{"success": "boolean", "data": "object"}),
				"Error": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"success": map[string]interface{}{"type": "boolean"},
						"error":   object(map[string]string{"code": "string", "message": "string", "details": "object"}),
					},
				},
				"StressTestRequest": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"leverage":  map[string]interface{}{"type": "number"},
						"scenarios": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
						"custom":    map[string]interface{}{"type": "array", "items": schemaRef("CustomScenario")},
					},
				},
				"CustomScenario": object(map[string]string{
					"name":            "string",
					"description":     "string",
					"price_shocks":    "object",
					"volume_shock":    "number",
					"spread_shock":    "number",
					"liquidity_shock": "number",
					"duration":        "string",
					"probability":     "number",
				}, "name", "price_shocks"),
				"BetaCalculationRequest": object(map[string]string{"markets": "array", "days": "integer", "rolling_window": "integer", "rolling_step": "integer"}, "markets"),
				"OrderCheckRequest":      object(map[string]string{"owner_id": "string", "symbol": "string", "side": "string", "quantity": "number", "price": "number"}, "owner_id", "symbol", "side"),
				"CreateLimitRequest":     object(map[string]string{"type": "string", "value": "number", "enabled": "boolean"}, "type"),
				"UpdateLimitRequest":     object(map[string]string{"type": "string", "value": "number", "enabled": "boolean", "version": "integer"}, "type", "version"),
			},
		},
	}
}
