package scene

import (
	"errors"

	"github.com/dailogi/scene-client/internal/backend"
)

// Backend error codes with a dedicated message.
const (
	CodeCharacterNotFound = "CHARACTER_NOT_FOUND"
	CodeLLMNotFound       = "LLM_NOT_FOUND"
	CodeValidation        = "VALIDATION_ERROR"
)

const genericFailure = "something went wrong while creating the scene"

// ErrorMessage returns the user-facing message for a failure to start or
// load a scene.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}

	var te *backend.TransportError
	if errors.As(err, &te) {
		return "the dialogue service is unreachable"
	}

	var se *backend.StatusError
	if !errors.As(err, &se) {
		return genericFailure
	}

	switch se.Code() {
	case CodeCharacterNotFound:
		return "the character is gone and no longer available"
	case CodeLLMNotFound:
		return "the selected language model does not exist"
	case CodeValidation:
		return "not all fields are filled in correctly"
	}
	if se.Response != nil && se.Response.Message != "" {
		return se.Response.Message
	}
	return genericFailure
}
