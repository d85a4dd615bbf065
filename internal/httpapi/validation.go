package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/MarkoPoloResearchLab/parkwise/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// registerValidations teaches gin's validator the ledger enumerations.
func registerValidations() {
	registerOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = engine.RegisterValidation("vehicle_type", parsesWith(ledger.ParseVehicleType))
		_ = engine.RegisterValidation("payment_method", parsesWith(ledger.ParsePaymentMethod))
		_ = engine.RegisterValidation("discount_type", parsesWith(ledger.ParseDiscountType))
		_ = engine.RegisterValidation("reservation_filter", parsesWith(ledger.ParseReservationFilter))
	})
}

func parsesWith[T any](parse func(string) (T, error)) validator.Func {
	return func(field validator.FieldLevel) bool {
		_, err := parse(field.Field().String())
		return err == nil
	}
}

// respondBindError writes a 400 for a request that failed to bind, listing the failing fields.
func respondBindError(ctx *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected a well-formed request"))
		return
	}
	details := make(map[string]string, len(validationErrors))
	fields := make([]string, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		details[fieldError.Field()] = fieldError.Tag()
		fields = append(fields, fieldError.Field())
	}
	response := errorResponse("invalid_payload", "invalid fields: "+strings.Join(fields, ", "))
	response["error"].(gin.H)["details"] = details
	ctx.JSON(http.StatusBadRequest, response)
}
