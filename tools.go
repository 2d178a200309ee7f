//go:build tools

package tools

// Pinned tool dependencies. swag generates the OpenAPI docs served behind
// the swagger build tag.
import (
	_ "github.com/swaggo/swag"
)
