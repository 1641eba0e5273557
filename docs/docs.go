// Package docs registers the OpenAPI description served by gin-swagger at
// /swagger/*any. Regenerate with `swag init -g cmd/server/main.go`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/admin/wallet/settings": {
            "get": {"tags": ["Wallet"], "summary": "Read global wallet settings", "operationId": "getWalletSettings", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}},
            "put": {"tags": ["Wallet"], "summary": "Update global wallet settings (compare-and-set)", "operationId": "updateWalletSettings", "consumes": ["application/json"], "produces": ["application/json"], "responses": {"200": {"description": "OK"}, "400": {"description": "Validation failed"}, "409": {"description": "Version conflict"}}}
        },
        "/admin/wallet/commission/pharmacies/{id}": {
            "get": {"tags": ["Wallet"], "summary": "Read a pharmacy commission override", "operationId": "getCommissionOverride", "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}},
            "put": {"tags": ["Wallet"], "summary": "Create or update a commission override (compare-and-set)", "operationId": "putCommissionOverride", "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "409": {"description": "Version conflict"}}},
            "delete": {"tags": ["Wallet"], "summary": "Delete a commission override (compare-and-set)", "operationId": "deleteCommissionOverride", "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}, {"type": "integer", "name": "version", "in": "query"}], "responses": {"204": {"description": "Deleted"}, "404": {"description": "Not found"}, "409": {"description": "Version conflict"}}}
        },
        "/admin/wallet/commission/pharmacies/{id}/effective": {
            "get": {"tags": ["Wallet"], "summary": "Resolve the commission that applies to a pharmacy", "operationId": "getEffectiveCommission", "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}
        },
        "/admin/pharmacies/{id}": {
            "get": {"tags": ["Pharmacies"], "summary": "Read a pharmacy", "operationId": "getPharmacy", "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}},
            "put": {"tags": ["Pharmacies"], "summary": "Create or replace a pharmacy", "operationId": "upsertPharmacy", "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "400": {"description": "Validation failed"}}}
        },
        "/admin/pharmacies/{id}/status": {
            "patch": {"tags": ["Pharmacies"], "summary": "Change a pharmacy's status", "operationId": "updatePharmacyStatus", "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}}
        },
        "/prescriptions/customer/{id}": {
            "get": {"tags": ["Prescriptions"], "summary": "Read a prescription", "operationId": "getPrescription", "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}}
        },
        "/prescriptions/customer/{id}/reroute/candidates": {
            "get": {"tags": ["Prescriptions"], "summary": "List pharmacies a prescription can be moved to", "operationId": "listRerouteCandidates", "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}, {"type": "number", "name": "lat", "in": "query"}, {"type": "number", "name": "lng", "in": "query"}, {"type": "number", "name": "radiusKm", "in": "query"}, {"type": "integer", "name": "excludePharmacyId", "in": "query"}, {"type": "array", "items": {"type": "string"}, "collectionFormat": "multi", "name": "status", "in": "query"}, {"type": "integer", "name": "limit", "in": "query"}, {"type": "integer", "name": "offset", "in": "query"}], "responses": {"200": {"description": "OK"}, "400": {"description": "Validation failed"}}}
        },
        "/prescriptions/customer/{id}/reroute": {
            "post": {"tags": ["Prescriptions"], "summary": "Move a prescription to another pharmacy", "operationId": "rerouteToPharmacy", "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}, {"type": "string", "name": "Idempotency-Key", "in": "header", "required": true}], "responses": {"200": {"description": "OK"}, "409": {"description": "Concurrent reroute or request in flight"}, "422": {"description": "Ineligible target, not reroutable, or key reuse"}}}
        },
        "/prescriptions/customer/{id}/reroute/history": {
            "get": {"tags": ["Prescriptions"], "summary": "List a prescription's reroute history (paginated)", "operationId": "listRerouteHistory", "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}, {"type": "integer", "name": "page", "in": "query"}, {"type": "integer", "name": "page_size", "in": "query"}], "responses": {"200": {"description": "OK"}, "304": {"description": "Not Modified"}}}
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Pharmacy Backend API",
	Description:      "Wallet commission settings with optimistic concurrency and idempotent prescription rerouting.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
