// Package schema parses schema.json into a typed, ordered column sequence
// and derives the primary-key ordering, legend projection, and JSON-Schema
// representation every other package in this module consumes.
package schema
