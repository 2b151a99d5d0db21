package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"linecare/internal/model"
	"linecare/internal/notifications"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type syncRequest struct {
	Action model.Action `json:"action" validate:"required,oneof=sync_inventory sync_purchase_orders sync_work_order_costs all"`
	// Wait runs the sync inline instead of queueing it.
	Wait bool `json:"wait"`
}

type eventRequest struct {
	Event string         `json:"event" validate:"required,max=100"`
	Data  map[string]any `json:"data"`
}

type notificationRequest struct {
	RecipientID string                `json:"recipientId" validate:"omitempty,max=64"`
	Filter      model.RecipientFilter `json:"filter"`
	Message     notifications.Message `json:"message"`
}

func validateRequest(v any) error {
	err := validate.Struct(v)
	if err == nil { return nil }
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) { return err }
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 { field = field[i+1:] }
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
