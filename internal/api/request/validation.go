package request

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/edvin/dbbackup/internal/model"
	"github.com/edvin/dbbackup/internal/scheduler"
)

var validate = validator.New()

func init() {
	validate.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		return scheduler.ValidateCron(fl.Field().String()) == nil
	})
	validate.RegisterValidation("dbtype", func(fl validator.FieldLevel) bool {
		_, err := model.ParseDatabaseType(fl.Field().String())
		return err == nil
	})
}

func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return nil
}

// Validate runs the struct tags of v without decoding.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return nil
}

// ParseID parses a positive numeric path id.
func ParseID(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("missing required ID")
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid ID %q", s)
	}
	return id, nil
}
