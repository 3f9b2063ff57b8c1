package main

// General API documentation for swaggo. Run `swag init -g cmd/embedd/docs.go`
// to generate a full document; build with -tags=swagger to serve it.
//
// @title           embedd API
// @version         1.0
// @description     Batched embedding, rerank and sequence classification inference.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
