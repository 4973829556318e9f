/*
Package log provides structured logging for ra built on zerolog.

A single global logger is configured once at process startup via Init, with
level selection and a choice between JSON output (for collection pipelines)
and human-readable console output. Components derive child loggers carrying
a component field, and snapshot managers derive per-participant loggers so
every line can be attributed to the participant whose state it concerns.
*/
package log
