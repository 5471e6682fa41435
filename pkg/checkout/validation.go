package checkout

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/angelmondragon/afm-storefront/pkg/errors"
	"github.com/angelmondragon/afm-storefront/pkg/types"
)

// Contact is the customer and shipping data collected on the checkout form.
type Contact struct {
	Email           string        `json:"email" validate:"required,email,max=254"`
	Phone           *string       `json:"phone,omitempty" validate:"omitempty,e164"`
	ShippingAddress types.Address `json:"shippingAddress"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

// Normalize trims the form, lower-cases the email and reduces the phone to
// E.164 digits. An empty phone becomes nil.
func (c Contact) Normalize() Contact {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if c.Phone != nil {
		phone := normalizePhone(*c.Phone)
		if phone == "" {
			c.Phone = nil
		} else {
			c.Phone = &phone
		}
	}
	c.ShippingAddress = c.ShippingAddress.Normalize()
	return c
}

// ValidateContact normalizes the form and reports every invalid field keyed
// by its JSON path.
func ValidateContact(c Contact) (Contact, error) {
	c = c.Normalize()
	if err := validate.Struct(c); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return c, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid checkout details")
		}
		details := make(map[string]string, len(errs))
		for _, fe := range errs {
			details[fieldPath(fe)] = message(fe)
		}
		return c, pkgerrors.New(pkgerrors.CodeValidation, "invalid checkout details").WithDetails(details)
	}
	return c, nil
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "e164":
		return "must be a valid phone number"
	case "iso3166_1_alpha2":
		return "must be a two-letter country code"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	}
	return "is invalid"
}

// normalizePhone keeps digits and a leading plus. Ten-digit numbers without a
// country code are assumed to be North American.
func normalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var b strings.Builder
	for i, r := range raw {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if !strings.HasPrefix(out, "+") {
		if len(out) == 10 {
			return "+1" + out
		}
		return "+" + out
	}
	return out
}
