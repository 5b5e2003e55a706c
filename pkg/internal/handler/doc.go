// Package handler provides internal reflection-based job handler adaptation.
//
// This package is internal and should not be imported directly.
// It turns functions such as func(ctx context.Context, p Payload) error into
// handlers that decode a JSON payload into the argument type before calling.
package handler
