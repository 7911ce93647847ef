package controller

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"finops-api/internal/models"
)

// RegisterValidations installs the custom binding validators used by the
// request DTOs. Safe to call more than once.
func RegisterValidations() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}

	_ = v.RegisterValidation("membertier", func(fl validator.FieldLevel) bool {
		_, known := models.TierLimits(models.MemberTier(fl.Field().String()))
		return known
	})

	_ = v.RegisterValidation("hrclass", func(fl validator.FieldLevel) bool {
		switch models.HRClassification(fl.Field().String()) {
		case models.HRClass1, models.HRClass2, models.HRClass3, models.HRClass4:
			return true
		}
		return false
	})
}
