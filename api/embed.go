// Package api holds the OpenAPI document of the status API.
package api

import _ "embed"

//go:embed openapi.yaml
var OpenAPISpec []byte
