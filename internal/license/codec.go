package license

import (
	"encoding/base64"
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"actikey/internal/errors"
)

// codeValidator checks the structural invariants of decoded codes.
var codeValidator = validator.New()

// Encode serializes a code into the opaque wire string handed to end
// users: base64 over the JSON document.
func Encode(code *Code) (string, error) {
	data, err := json.Marshal(code)
	if err != nil {
		return "", errors.Wrap(errors.CodeMalformedCode, "failed to encode activation code", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode parses the wire string back into its structured form. It fails
// closed: any transform, parse or structural failure yields a
// MALFORMED_CODE error and never a partially populated code.
func Decode(raw string) (*Code, error) {
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.Wrap(errors.CodeMalformedCode, "activation code is not valid base64", err)
	}

	var code Code
	if err := json.Unmarshal(data, &code); err != nil {
		return nil, errors.Wrap(errors.CodeMalformedCode, "activation code payload is not valid JSON", err)
	}

	if err := codeValidator.Struct(&code); err != nil {
		return nil, errors.Wrap(errors.CodeMalformedCode, "activation code is missing required fields", err)
	}

	return &code, nil
}
