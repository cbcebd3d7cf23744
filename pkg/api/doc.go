// Package api binds the HTTP surface of spec §6 onto the sorcerer and
// quest registry. It is intentionally thin: path parameters are parsed
// and validated by mux route regexes, request/response bodies are plain
// JSON structs, and every handler's only job is to call into
// pkg/sorcerer or pkg/quest and map the result (or apierr.Kind) onto an
// HTTP status. It is not a reimplementation of the OpenAPI contract,
// just the minimal glue a real process needs to exercise the core over
// HTTP.
package api
