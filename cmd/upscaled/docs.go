package main

// General API documentation for swaggo. Run `swag init` to generate docs.
//
// @title           upscaled API
// @version         1.0
// @description     HTTP API for privacy-first 4x image upscaling.
//
// @contact.name   upscaled maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
