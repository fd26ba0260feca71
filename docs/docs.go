// Package docs is regenerated by `swag init -g cmd/server/main.go`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "title": "{{.Title}}",
    "description": "{{escape .Description}}",
    "version": "{{.Version}}"
  },
  "basePath": "{{.BasePath}}",
  "securityDefinitions": {
    "AdminKey": {"type": "apiKey", "in": "header", "name": "X-Admin-Key"}
  },
  "tags": [
    {"name": "calls"},
    {"name": "import"},
    {"name": "sync"},
    {"name": "flows"},
    {"name": "prompts"},
    {"name": "settings"},
    {"name": "jobs"}
  ],
  "paths": {}
}`

var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Title:            "Call Quality Backend",
	Description:      "Call history ingestion, transcription, emotion and LLM quality analysis",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
