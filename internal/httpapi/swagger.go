//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// docTemplate is a minimal Swagger 2.0 document. Running swag init over
// cmd/embedd regenerates a complete one from the handler annotations.
const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "{{.Title}}",
        "description": "{{escape .Description}}",
        "version": "{{.Version}}"
    },
    "basePath": "{{.BasePath}}",
    "paths": {
        "/embed": {"post": {"tags": ["inference"], "summary": "Embed texts", "responses": {"200": {"description": "OK"}}}},
        "/rerank": {"post": {"tags": ["inference"], "summary": "Rerank texts against a query", "responses": {"200": {"description": "OK"}}}},
        "/predict": {"post": {"tags": ["inference"], "summary": "Classify texts", "responses": {"200": {"description": "OK"}}}},
        "/search": {"post": {"tags": ["search"], "summary": "Semantic search", "responses": {"200": {"description": "OK"}}}},
        "/tables/{table}/documents": {"post": {"tags": ["search"], "summary": "Index documents into a table", "responses": {"200": {"description": "OK"}}}},
        "/tables/{table}/documents/{id}": {
            "get": {"tags": ["search"], "summary": "Fetch one indexed document", "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}},
            "delete": {"tags": ["search"], "summary": "Delete one indexed document", "responses": {"204": {"description": "No Content"}}}
        },
        "/info": {"get": {"summary": "Model and limits", "responses": {"200": {"description": "OK"}}}},
        "/status": {"get": {"summary": "Queue status", "responses": {"200": {"description": "OK"}}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Title:            "embedd API",
	Description:      "Batched embedding, rerank and classification inference.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

// MountSwagger serves the UI at /swagger/ and the document at /swagger/doc.json.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
