// Package internal holds the conversion interfaces shared by payload types
// that move between resources and platform APIs.
package internal

type From[T any] interface {
	From(T)
}

type Into[T any] interface {
	Into() T
}

type TryFrom[T any] interface {
	TryFrom(T) error
}
