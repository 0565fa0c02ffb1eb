package services

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/ruralpay/webhooks/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func validRequest() models.WebhookRequest {
	return models.WebhookRequest{
		TransactionID:      "txn_1",
		SourceAccount:      "A",
		DestinationAccount: "B",
		Amount:             decimal.NewFromInt(1500),
		Currency:           "INR",
	}
}

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid request", func(t *testing.T) {
		req := validRequest()
		assert.NoError(t, vh.ValidateStruct(&req))
	})

	t.Run("fractional amount", func(t *testing.T) {
		req := validRequest()
		req.Amount = decimal.RequireFromString("0.01")
		assert.NoError(t, vh.ValidateStruct(&req))
	})

	t.Run("amounts the column holds exactly", func(t *testing.T) {
		for _, amount := range []string{"0.0001", "1.50000", "9999999999999999.9999"} {
			req := validRequest()
			req.Amount = decimal.RequireFromString(amount)
			assert.NoError(t, vh.ValidateStruct(&req), amount)
		}
	})

	tests := []struct {
		name   string
		mutate func(r *models.WebhookRequest)
		field  string
		tag    string
	}{
		{"missing id", func(r *models.WebhookRequest) { r.TransactionID = "" }, "transaction_id", "required"},
		{"negative amount", func(r *models.WebhookRequest) { r.Amount = decimal.NewFromInt(-5) }, "amount", "gt"},
		{"zero amount", func(r *models.WebhookRequest) { r.Amount = decimal.Zero }, "amount", "gt"},
		{"missing currency", func(r *models.WebhookRequest) { r.Currency = "" }, "currency", "required"},
		{"same accounts", func(r *models.WebhookRequest) { r.DestinationAccount = r.SourceAccount }, "destination_account", "nefield"},
		{"missing source", func(r *models.WebhookRequest) { r.SourceAccount = "" }, "source_account", "required"},
		{"below smallest unit", func(r *models.WebhookRequest) { r.Amount = decimal.RequireFromString("0.00001") }, "amount", "decimal_scale"},
		{"too many decimals", func(r *models.WebhookRequest) { r.Amount = decimal.RequireFromString("1.23456") }, "amount", "decimal_scale"},
		{"integer part too wide", func(r *models.WebhookRequest) { r.Amount = decimal.RequireFromString("10000000000000000") }, "amount", "max_digits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			err := vh.ValidateStruct(&req)
			assert.Error(t, err)

			var validationErrors validator.ValidationErrors
			assert.True(t, errors.As(err, &validationErrors))
			assert.Len(t, validationErrors, 1)
			assert.Equal(t, tt.field, validationErrors[0].Field())
			assert.Equal(t, tt.tag, validationErrors[0].Tag())
		})
	}
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("error response without validation errors", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Something went wrong", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Something went wrong", response.Error)
		assert.Nil(t, response.Details)
	})

	t.Run("error response with validation errors", func(t *testing.T) {
		vh := NewValidationHelper()
		invalid := validRequest()
		invalid.TransactionID = ""
		invalid.Amount = decimal.NewFromInt(-5)

		validationErr := vh.ValidateStruct(&invalid)
		assert.Error(t, validationErr)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, validationErr)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Validation failed", response.Error)
		assert.Contains(t, response.Details, "transaction_id")
		assert.Contains(t, response.Details, "amount")
	})

	t.Run("non-validation error is not expanded", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, errors.New("boom"))

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Invalid request", response.Error)
		assert.Nil(t, response.Details)
	})
}
