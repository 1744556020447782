package detector

import "fmt"

// ModelNotFoundError is returned when a model identifier has no weights file
// behind it. The message doubles as the user-facing envelope msg.
type ModelNotFoundError struct {
	Name string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("Model file '%s' not found", e.Name)
}
