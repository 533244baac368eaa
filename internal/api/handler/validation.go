package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Rrens/apiquest-collab/internal/api/response"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// decodeAndValidate reads a JSON body into v and writes the 400 itself on failure
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.BadRequest(w, "invalid request body")
		return false
	}

	if err := validate.Struct(v); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			response.BadRequest(w, fieldErrors(validationErrors))
			return false
		}
		response.BadRequest(w, err.Error())
		return false
	}
	return true
}

func fieldErrors(validationErrors validator.ValidationErrors) map[string]string {
	errs := make(map[string]string)
	for _, e := range validationErrors {
		field := e.Field()
		tag := e.Tag()
		switch tag {
		case "required":
			errs[field] = "field is required"
		case "required_without":
			errs[field] = "field is required when " + e.Param() + " is empty"
		case "uuid":
			errs[field] = "must be a valid UUID"
		case "len":
			errs[field] = "must be exactly " + e.Param() + " characters"
		case "alphanum":
			errs[field] = "must contain only letters and digits"
		case "min":
			errs[field] = "must be at least " + e.Param()
		case "max":
			errs[field] = "must be at most " + e.Param()
		default:
			errs[field] = "validation failed on " + tag
		}
	}
	return errs
}
