package api

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"KlineHub/internal/domain/models"
	xhttp "KlineHub/pkg/http"
)

func init() {
	names := models.IntervalNames()
	xhttp.MustRegisterRule(xhttp.Rule{
		Tag:     "interval",
		Fn:      validInterval,
		Message: intervalMessage(names),
		Options: names,
	})
}

// validInterval backs the `interval` tag on request structs.
func validInterval(fl validator.FieldLevel) bool {
	_, err := models.ParseInterval(fl.Field().String())
	return err == nil
}

func intervalMessage(names []string) func(string) string {
	supported := strings.Join(names, ", ")
	return func(field string) string {
		return field + " must be a supported interval: " + supported
	}
}
