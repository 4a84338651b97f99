package api

func jsonResponse(description, schemaRef string) map[string]any {
	return map[string]any{
		"description": description,
		"content": map[string]any{
			"application/json": map[string]any{
				"schema": map[string]any{"$ref": "#/components/schemas/" + schemaRef},
			},
		},
	}
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the HTTP API.
func buildOpenAPIDoc() map[string]any {
	str := map[string]any{"type": "string"}
	strList := map[string]any{"type": "array", "items": str}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "urclgw",
			"version": "1.0",
		},
		"paths": map[string]any{
			"/jobs": map[string]any{
				"post": map[string]any{
					"operationId": "submitJob",
					"summary":     "Queue a program for the engine",
					"parameters": []any{map[string]any{
						"name": "wait", "in": "query", "schema": map[string]any{"type": "boolean"},
					}},
					"requestBody": map[string]any{
						"required": true,
						"content": map[string]any{
							"application/json": map[string]any{
								"schema": map[string]any{"$ref": "#/components/schemas/SubmitRequest"},
							},
						},
					},
					"responses": map[string]any{
						"200": jsonResponse("Job finished", "JobResult"),
						"202": jsonResponse("Job queued", "Accepted"),
						"400": jsonResponse("Invalid submission", "Error"),
						"413": jsonResponse("Source too large", "Error"),
					},
				},
				"get": map[string]any{
					"operationId": "listJobs",
					"summary":     "Recent finished jobs",
					"responses":   map[string]any{"200": map[string]any{"description": "Job history"}},
				},
			},
			"/jobs/{jobID}": map[string]any{
				"get": map[string]any{
					"operationId": "getJob",
					"parameters": []any{map[string]any{
						"name": "jobID", "in": "path", "required": true, "schema": str,
					}},
					"responses": map[string]any{
						"200": map[string]any{"description": "Finished job"},
						"404": jsonResponse("Unknown job", "Error"),
					},
				},
			},
			"/healthz": map[string]any{
				"get": map[string]any{
					"operationId": "healthz",
					"responses":   map[string]any{"200": map[string]any{"description": "Service status"}},
				},
			},
			"/events": map[string]any{
				"get": map[string]any{
					"operationId": "events",
					"summary":     "Server-sent job and worker events",
					"responses": map[string]any{"200": map[string]any{
						"description": "Event stream",
						"content":     map[string]any{"text/event-stream": map[string]any{}},
					}},
				},
			},
		},
		"components": map[string]any{
			"schemas": map[string]any{
				"SubmitRequest": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":        str,
						"language":    str,
						"output_type": str,
						"tier":        str,
						"origin":      str,
						"source":      str,
						"attachment": map[string]any{
							"type":     "object",
							"required": []string{"url", "size"},
							"properties": map[string]any{
								"url":      str,
								"filename": str,
								"size":     map[string]any{"type": "integer"},
							},
						},
					},
				},
				"Accepted": map[string]any{
					"type":       "object",
					"properties": map[string]any{"job_id": str, "status": str, "name": str},
				},
				"JobResult": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"job_id":        str,
						"status":        map[string]any{"type": "string", "enum": []string{"succeeded", "failed"}},
						"lines":         strList,
						"error_kind":    str,
						"error_message": str,
					},
				},
				"Error": map[string]any{
					"type":       "object",
					"properties": map[string]any{"error": str},
				},
			},
		},
	}
}
