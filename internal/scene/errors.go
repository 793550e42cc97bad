package scene

import "errors"

// Sentinel errors returned by the scene services and [Store] implementations.
// Callers match them with [errors.Is]; validation failures wrap
// [ErrValidation] with a human-readable detail message.
var (
	// ErrConflict is returned by Start when the location already has an
	// active scene.
	ErrConflict = errors.New("an active scene already exists at this location")

	// ErrNotFound is returned when a scene does not exist or the acting
	// actor has no access path to resolve it.
	ErrNotFound = errors.New("scene not found")

	// ErrPermission is returned when the actor is neither privileged nor a
	// participant of the scene an operation requires one for.
	ErrPermission = errors.New("actor is not a participant of this scene")

	// ErrValidation is wrapped by annotation errors carrying malformed
	// input, such as an empty title or an unknown group reference.
	ErrValidation = errors.New("invalid input")

	// ErrSceneClosed is returned by Append when the target scene is not
	// active.
	ErrSceneClosed = errors.New("scene is not active")
)
