// Package utils provides helpers shared by the pipeline stages:
//   - environment knobs (helpers.go)
//   - token counting and chunk grouping (tokens.go)
//   - timestamps for index records (datetime.go)
//   - argument validation (validation.go)
package utils
