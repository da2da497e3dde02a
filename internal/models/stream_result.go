package models

// StreamResult carries one streamed value or the error that ends the stream.
// Aggregation streams send Chunk values and close after at most one error.
type StreamResult[T any] struct {
	Value T
	Err   error
}
