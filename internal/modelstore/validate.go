package modelstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/joelkehle/value-model-agent/internal/session"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateModel(m Model) error {
	err := validate.Struct(m)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewValidationError(err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return NewValidationError(strings.Join(msgs, "; "))
}

func stageOf(s string) session.Stage {
	st := session.Stage(s)
	if !st.Valid() {
		return session.StageIdle
	}
	return st
}
