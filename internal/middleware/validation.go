package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("query")
	})
	return v
}

// ListQuery holds the pagination parameters of list endpoints.
type ListQuery struct {
	Limit  int    `query:"limit" validate:"min=1,max=100"`
	Offset int    `query:"offset" validate:"min=0"`
	Status string `query:"status" validate:"omitempty,oneof=active closed"`
}

// ParseListQuery reads limit, offset and status from the query string.
func ParseListQuery(r *http.Request, defaultLimit int) (ListQuery, error) {
	q := ListQuery{Limit: defaultLimit}
	values := r.URL.Query()

	if l := values.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			return q, errors.New("limit must be an integer")
		}
		q.Limit = n
	}
	if o := values.Get("offset"); o != "" {
		n, err := strconv.Atoi(o)
		if err != nil {
			return q, errors.New("offset must be an integer")
		}
		q.Offset = n
	}
	q.Status = values.Get("status")

	if err := validate.Struct(q); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return q, fmt.Errorf("invalid %s", verrs[0].Field())
		}
		return q, err
	}
	return q, nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}
